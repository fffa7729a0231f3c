package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/autherr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// Authenticator resolves an access token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// UserIDFromContext returns the user id stored by the access token interceptor.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// AccessTokenInterceptor requires a valid access token in the
// common.AccessTokenHeaderName metadata for every method protected reports
// true for, and stores its subject in the context.
func AccessTokenInterceptor(a Authenticator, protected func(fullMethod string) bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !protected(info.FullMethod) {
			return handler(ctx, req)
		}

		var accessToken string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
				accessToken = values[0]
			}
		}
		if accessToken == "" {
			return nil, autherr.E(autherr.KindUnauthenticated, info.FullMethod, errors.New("missing access token"))
		}

		userID, err := a.Authenticate(ctx, accessToken)
		if err != nil {
			return nil, err
		}

		return handler(context.WithValue(ctx, userIDKey, userID), req)
	}
}

// ErrorInterceptor turns handler errors into statuses. autherr errors keep
// their kind's code and generic message; anything else becomes Internal so
// that no cause reaches the client. Internal failures are logged.
func ErrorInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		var ae *autherr.Error
		if errors.As(err, &ae) {
			if ae.Kind == autherr.KindInternal {
				logger.Error(ctx, "request failed", "method", info.FullMethod, "error", ae.Detail())
			}
			return nil, ae.GRPCStatus().Err()
		}
		if _, ok := status.FromError(err); ok {
			return nil, err
		}

		logger.Error(ctx, "request failed", "method", info.FullMethod, "error", err)
		return nil, status.Error(codes.Internal, autherr.KindInternal.Message())
	}
}
