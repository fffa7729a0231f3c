// Package services contains server-side business logic. This file implements
// SessionService: login, logout, refresh-token rotation, password reset,
// e-mail verification tokens and phone OTP.
//
// Security-sensitive flows collapse every failure into one generic
// autherr kind. The precise cause stays reachable through errors.Unwrap for
// logs and tests and never appears in Error().
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/autherr"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/gophauth/internal/server/verification"
	"golang.org/x/crypto/bcrypt"
)

// Internal causes behind the generic login errors.
var (
	ErrNoSuchUser      = errors.New("no such user")
	ErrBadPassword     = errors.New("password mismatch")
	ErrNotVerified     = errors.New("account not verified")
	ErrSubjectMismatch = errors.New("token subject does not match stored owner")
)

// TokenPair is the session outcome of a login or refresh. It is not stored;
// only the refresh half is persisted.
type TokenPair struct {
	AccessToken    string
	AccessExpires  time.Time
	RefreshToken   string
	RefreshExpires time.Time
}

// SessionService orchestrates the token lifecycle over the user directory,
// the token store and the verification provider.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	codec       *auth.Codec
	gateway     verification.Gateway
	logger      logging.Logger
	metrics     metrics.Recorder

	accessTTL      time.Duration
	refreshTTL     time.Duration
	resetTTL       time.Duration
	verifyEmailTTL time.Duration
}

// NewSessionService wires a SessionService. Token lifetimes come from cfg;
// a nil recorder disables metrics.
func NewSessionService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	codec *auth.Codec,
	gw verification.Gateway,
	cfg *config.Config,
	logger logging.Logger,
	rec metrics.Recorder,
) *SessionService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &SessionService{
		db:             db,
		repomanager:    m,
		codec:          codec,
		gateway:        gw,
		logger:         logger.With("module", "session"),
		metrics:        rec,
		accessTTL:      cfg.AccessTokenValidityDuration,
		refreshTTL:     cfg.RefreshTokenValidityDuration,
		resetTTL:       cfg.ResetPasswordTokenValidityDuration,
		verifyEmailTTL: cfg.VerifyEmailTokenValidityDuration,
	}
}

func (s *SessionService) users() users.Repository {
	return s.repomanager.Users(s.db)
}

func (s *SessionService) tokens() tokens.Store {
	return s.repomanager.Tokens(s.db)
}

// dummyHash is compared against when the identity is unknown so that a
// missing user costs as much as a wrong password.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("gophauth-timing-equaliser"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
})

// Login checks identity (email or phone) and password. Unknown identity and
// wrong password both fail Unauthorized with the same message; an
// unverified account fails Forbidden.
func (s *SessionService) Login(ctx context.Context, identity, password string) (_ *models.User, err error) {
	const op = "login"
	defer s.observe(ctx, op, time.Now(), &err)

	user, err := s.users().GetUser(ctx, identity)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			return nil, autherr.E(autherr.KindUnauthorized, op, fmt.Errorf("%w: %w", ErrNoSuchUser, err))
		}
		return nil, autherr.E(autherr.KindInternal, op, err)
	}
	if !user.IsPasswordMatch(password) {
		return nil, autherr.E(autherr.KindUnauthorized, op, ErrBadPassword)
	}
	if !user.IsVerified {
		return nil, autherr.E(autherr.KindForbidden, op, ErrNotVerified)
	}
	return user, nil
}

// IssueAuthTokens mints an access token and a persisted refresh token for user.
func (s *SessionService) IssueAuthTokens(ctx context.Context, user *models.User) (_ *TokenPair, err error) {
	const op = "issue_auth_tokens"
	defer s.observe(ctx, op, time.Now(), &err)

	pair, refresh, err := s.newTokenPair(user.ID)
	if err != nil {
		return nil, autherr.E(autherr.KindInternal, op, err)
	}
	if err := s.tokens().Save(ctx, refresh); err != nil {
		return nil, autherr.E(autherr.KindInternal, op, err)
	}
	return pair, nil
}

// Logout deletes an active refresh token. A token that is absent, expired
// or already used fails NotFound, unlike the store's idempotent Invalidate.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) (err error) {
	const op = "logout"
	defer s.observe(ctx, op, time.Now(), &err)

	store := s.tokens()
	if _, err := store.FindActive(ctx, refreshToken, models.TokenRefresh); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return autherr.E(autherr.KindNotFound, op, err)
		}
		return autherr.E(autherr.KindInternal, op, err)
	}
	if err := store.Invalidate(ctx, refreshToken); err != nil {
		return autherr.E(autherr.KindInternal, op, err)
	}
	return nil
}

// LogoutAll deletes every refresh token of userID.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) (err error) {
	const op = "logout_all"
	defer s.observe(ctx, op, time.Now(), &err)

	if err := s.tokens().InvalidateAllOfKindForSubject(ctx, userID, models.TokenRefresh); err != nil {
		return autherr.E(autherr.KindInternal, op, err)
	}
	return nil
}

// RefreshAuth exchanges a refresh token for a new pair. The old token is
// consumed in the same store transaction that persists the new one, so of
// several concurrent calls with one token at most one succeeds. Every
// failure is Unauthenticated.
func (s *SessionService) RefreshAuth(ctx context.Context, refreshToken string) (_ *TokenPair, err error) {
	const op = "refresh_auth"
	defer s.observe(ctx, op, time.Now(), &err)

	pair, err := s.refreshAuth(ctx, refreshToken)
	if err != nil {
		return nil, autherr.Collapse(autherr.KindUnauthenticated, op, err)
	}
	return pair, nil
}

func (s *SessionService) refreshAuth(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.Parse(refreshToken, models.TokenRefresh)
	if err != nil {
		return nil, err
	}

	store := s.tokens()
	stored, err := store.FindActive(ctx, refreshToken, models.TokenRefresh)
	if err != nil {
		return nil, err
	}
	if stored.UserID != claims.UserID() {
		return nil, ErrSubjectMismatch
	}

	user, err := s.users().GetUserByID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}

	pair, refresh, err := s.newTokenPair(user.ID)
	if err != nil {
		return nil, err
	}
	if _, err := store.Rotate(ctx, refreshToken, models.TokenRefresh, refresh); err != nil {
		return nil, err
	}
	return pair, nil
}

// ForgotPassword issues and stores a reset-password token for the account
// registered under email. An unknown email fails NotFound.
func (s *SessionService) ForgotPassword(ctx context.Context, email string) (_ string, err error) {
	const op = "forgot_password"
	defer s.observe(ctx, op, time.Now(), &err)

	user, err := s.users().GetUser(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", autherr.E(autherr.KindNotFound, op, err)
		}
		return "", autherr.E(autherr.KindInternal, op, err)
	}

	tok, err := s.issueStored(ctx, user.ID, models.TokenResetPassword, s.resetTTL)
	if err != nil {
		return "", autherr.E(autherr.KindInternal, op, err)
	}
	return tok.Value, nil
}

// ResetPassword sets a new password for the owner of a reset-password token
// and deletes all of that user's reset-password tokens. Concurrent resets
// for one user serialize in the store; once one succeeds the others find
// their token gone. Every failure is ResetFailed.
func (s *SessionService) ResetPassword(ctx context.Context, resetToken, newPassword string) (err error) {
	const op = "reset_password"
	defer s.observe(ctx, op, time.Now(), &err)

	if err := s.resetPassword(ctx, resetToken, newPassword); err != nil {
		return autherr.Collapse(autherr.KindResetFailed, op, err)
	}
	return nil
}

func (s *SessionService) resetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.codec.Parse(resetToken, models.TokenResetPassword)
	if err != nil {
		return err
	}

	user, err := s.users().GetUserByID(ctx, claims.UserID())
	if err != nil {
		return err
	}

	return s.tokens().Redeem(ctx, resetToken, models.TokenResetPassword, user.ID, func(ctx context.Context, tx dbx.DBTX) error {
		dir := s.users()
		if tx != nil {
			dir = s.repomanager.Users(tx)
		}
		_, err := dir.UpdateUserByID(ctx, user.ID, models.UserUpdate{Password: &newPassword})
		return err
	})
}

// IssueVerifyEmailToken issues and stores an e-mail verification token.
func (s *SessionService) IssueVerifyEmailToken(ctx context.Context, user *models.User) (_ string, err error) {
	const op = "issue_verify_email_token"
	defer s.observe(ctx, op, time.Now(), &err)

	tok, err := s.issueStored(ctx, user.ID, models.TokenVerifyEmail, s.verifyEmailTTL)
	if err != nil {
		return "", autherr.E(autherr.KindInternal, op, err)
	}
	return tok.Value, nil
}

// VerifyEmail redeems a verification token and every sibling of it, and
// returns the owner. Marking the account verified belongs to the directory.
// Every failure is Unauthenticated.
func (s *SessionService) VerifyEmail(ctx context.Context, verifyToken string) (_ *models.User, err error) {
	const op = "verify_email"
	defer s.observe(ctx, op, time.Now(), &err)

	user, err := s.verifyEmail(ctx, verifyToken)
	if err != nil {
		return nil, autherr.Collapse(autherr.KindUnauthenticated, op, err)
	}
	return user, nil
}

func (s *SessionService) verifyEmail(ctx context.Context, verifyToken string) (*models.User, error) {
	claims, err := s.codec.Parse(verifyToken, models.TokenVerifyEmail)
	if err != nil {
		return nil, err
	}
	user, err := s.users().GetUserByID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	noop := func(context.Context, dbx.DBTX) error { return nil }
	if err := s.tokens().Redeem(ctx, verifyToken, models.TokenVerifyEmail, user.ID, noop); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate validates an access token and returns its subject.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (_ string, err error) {
	const op = "authenticate"
	defer s.observe(ctx, op, time.Now(), &err)

	claims, err := s.codec.Parse(accessToken, models.TokenAccess)
	if err != nil {
		return "", autherr.E(autherr.KindUnauthenticated, op, err)
	}
	return claims.UserID(), nil
}

// RequestOneTimePassword asks the provider to send a code to phoneNumber.
// Nothing about the challenge is kept locally.
func (s *SessionService) RequestOneTimePassword(ctx context.Context, phoneNumber string) (_ *models.VerificationReceipt, err error) {
	const op = "request_otp"
	defer s.observe(ctx, op, time.Now(), &err, "phone", logging.MaskPhone(phoneNumber))

	receipt, err := s.gateway.SendCode(ctx, phoneNumber)
	if err != nil {
		return nil, autherr.Collapse(autherr.KindVerificationUnavailable, op, err)
	}
	return receipt, nil
}

// VerifyPhoneNumber asks the provider to check code. A rejected code is a
// result, not an error.
func (s *SessionService) VerifyPhoneNumber(ctx context.Context, phoneNumber, code string) (_ *models.VerificationResult, err error) {
	const op = "verify_phone"
	defer s.observe(ctx, op, time.Now(), &err, "phone", logging.MaskPhone(phoneNumber))

	result, err := s.gateway.CheckCode(ctx, phoneNumber, code)
	if err != nil {
		return nil, autherr.Collapse(autherr.KindVerificationUnavailable, op, err)
	}
	return result, nil
}

// --- helpers below ---

func (s *SessionService) newTokenPair(userID string) (*TokenPair, *models.Token, error) {
	access, err := s.codec.Issue(userID, models.TokenAccess, s.accessTTL)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.codec.Issue(userID, models.TokenRefresh, s.refreshTTL)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.RecordTokenIssued(string(models.TokenAccess))
	s.metrics.RecordTokenIssued(string(models.TokenRefresh))

	return &TokenPair{
		AccessToken:    access.Value,
		AccessExpires:  access.Expires,
		RefreshToken:   refresh.Value,
		RefreshExpires: refresh.Expires,
	}, refresh, nil
}

func (s *SessionService) issueStored(ctx context.Context, userID string, kind models.TokenKind, ttl time.Duration) (*models.Token, error) {
	tok, err := s.codec.Issue(userID, kind, ttl)
	if err != nil {
		return nil, err
	}
	if err := s.tokens().Save(ctx, tok); err != nil {
		return nil, err
	}
	s.metrics.RecordTokenIssued(string(kind))
	return tok, nil
}

// observe logs the outcome of op and records it. Internal failures are
// logged at error level, expected rejections at warn.
func (s *SessionService) observe(ctx context.Context, op string, start time.Time, errp *error, args ...any) {
	d := time.Since(start)
	args = append(args, "op", op, "duration_ms", d.Milliseconds())

	err := *errp
	if err == nil {
		s.metrics.RecordOperation(op, metrics.OutcomeSuccess, d)
		s.logger.Debug(ctx, "operation succeeded", args...)
		return
	}

	kind := autherr.KindOf(err)
	s.metrics.RecordOperation(op, kind.String(), d)

	args = append(args, "kind", kind.String())
	if cause := errors.Unwrap(err); cause != nil {
		args = append(args, "cause", cause.Error())
	}
	if kind == autherr.KindInternal {
		s.logger.Error(ctx, "operation failed", args...)
		return
	}
	s.logger.Warn(ctx, "operation failed", args...)
}
