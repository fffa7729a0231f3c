// Package authctl is the operator tool of the auth server. It runs the
// session operations directly against the configured database, which is
// handy for migrations, seeding users and inspecting token flows.
package authctl

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/dmitrijs2005/gophauth/internal/server/verification"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("wrong number of arguments")
)

// Sessions is the part of services.SessionService the tool drives.
type Sessions interface {
	Login(ctx context.Context, identity, password string) (*models.User, error)
	IssueAuthTokens(ctx context.Context, user *models.User) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
	RefreshAuth(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	RequestOneTimePassword(ctx context.Context, phoneNumber string) (*models.VerificationReceipt, error)
	VerifyPhoneNumber(ctx context.Context, phoneNumber, code string) (*models.VerificationResult, error)
}

type command struct {
	usage string
	nargs int
	run   func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"migrate":         {"migrate", 0, (*App).migrateCmd},
	"create-user":     {"create-user <email>", 1, (*App).createUser},
	"login":           {"login <email|phone>", 1, (*App).login},
	"refresh":         {"refresh <refresh-token>", 1, (*App).refresh},
	"logout":          {"logout <refresh-token>", 1, (*App).logout},
	"logout-all":      {"logout-all <user-id>", 1, (*App).logoutAll},
	"forgot-password": {"forgot-password <email>", 1, (*App).forgotPassword},
	"reset-password":  {"reset-password <reset-token>", 1, (*App).resetPassword},
	"otp-request":     {"otp-request <phone>", 1, (*App).otpRequest},
	"otp-verify":      {"otp-verify <phone> <code>", 2, (*App).otpVerify},
}

type App struct {
	sessions Sessions
	users    users.Repository
	migrate  func(ctx context.Context) error
	reader   *bufio.Reader
	out      io.Writer
	db       *sql.DB
}

// NewApp opens the database from cfg and wires a session service on top of
// it. Logs go to stderr. Migrations are applied only by the migrate command.
func NewApp(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (*App, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := logging.NewJSONLogger(os.Stderr, level)

	db, err := repomanager.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	codec, err := auth.NewCodec(auth.CodecConfig{Secret: []byte(cfg.SecretKey), Issuer: cfg.Issuer})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	gateway, _ := verification.New(verification.Settings{
		Twilio: verification.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			ServiceSID: cfg.TwilioServiceSID,
			BaseURL:    cfg.TwilioBaseURL,
			Timeout:    cfg.VerificationTimeout,
		},
		Rate:  cfg.VerificationRate,
		Burst: cfg.VerificationBurst,
	})

	rm := repomanager.NewPostgresRepositoryManager()
	sessions := services.NewSessionService(db, rm, codec, gateway, cfg, logger, nil)

	app := newApp(sessions, rm.Users(db), func(ctx context.Context) error {
		return rm.RunMigrations(ctx, db)
	}, in, out)
	app.db = db
	return app, nil
}

func newApp(s Sessions, u users.Repository, migrate func(context.Context) error, in io.Reader, out io.Writer) *App {
	return &App{
		sessions: s,
		users:    u,
		migrate:  migrate,
		reader:   bufio.NewReader(in),
		out:      out,
	}
}

// Close releases the database handle.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Usage writes the list of commands to w.
func Usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: authctl <command> [arguments] [-c config.json] [-d dsn] [-s secret] [-l level]")
	fmt.Fprintln(w, "Commands:")
	for _, name := range []string{
		"migrate", "create-user", "login", "refresh", "logout", "logout-all",
		"forgot-password", "reset-password", "otp-request", "otp-verify",
	} {
		fmt.Fprintln(w, "  "+commands[name].usage)
	}
}

// Run executes one command with its positional arguments.
func (a *App) Run(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if len(args) != cmd.nargs {
		return fmt.Errorf("%w, usage: authctl %s", ErrUsage, cmd.usage)
	}
	return cmd.run(a, ctx, args)
}

func (a *App) migrateCmd(ctx context.Context, _ []string) error {
	if err := a.migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Migrations applied")
	return nil
}

func (a *App) createUser(ctx context.Context, args []string) error {
	name, err := GetSimpleText(a.reader, "-Enter name", a.out)
	if err != nil {
		return err
	}
	phone, err := GetSimpleText(a.reader, "-Enter phone number (optional)", a.out)
	if err != nil {
		return err
	}
	verified, err := GetSimpleText(a.reader, "-Mark as verified? (y/N)", a.out)
	if err != nil {
		return err
	}

	password, err := GetPassword("Enter password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	u, err := a.users.Create(ctx, &models.User{
		Name:        name,
		Email:       args[0],
		PhoneNumber: phone,
		IsVerified:  strings.EqualFold(verified, "y"),
	}, string(password))
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Created user %s\n", u.ID)
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	password, err := GetPassword("Enter password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	u, err := a.sessions.Login(ctx, args[0], string(password))
	if err != nil {
		return err
	}
	pair, err := a.sessions.IssueAuthTokens(ctx, u)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "user_id: %s\n", u.ID)
	a.printPair(pair)
	return nil
}

func (a *App) refresh(ctx context.Context, args []string) error {
	pair, err := a.sessions.RefreshAuth(ctx, args[0])
	if err != nil {
		return err
	}
	a.printPair(pair)
	return nil
}

func (a *App) logout(ctx context.Context, args []string) error {
	if err := a.sessions.Logout(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) logoutAll(ctx context.Context, args []string) error {
	if err := a.sessions.LogoutAll(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "All sessions revoked")
	return nil
}

func (a *App) forgotPassword(ctx context.Context, args []string) error {
	token, err := a.sessions.ForgotPassword(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "reset_token: %s\n", token)
	return nil
}

func (a *App) resetPassword(ctx context.Context, args []string) error {
	password, err := GetPassword("Enter new password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.sessions.ResetPassword(ctx, args[0], string(password)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}

func (a *App) otpRequest(ctx context.Context, args []string) error {
	r, err := a.sessions.RequestOneTimePassword(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Code sent to %s via %s (status %s)\n", logging.MaskPhone(r.To), r.Channel, r.Status)
	return nil
}

func (a *App) otpVerify(ctx context.Context, args []string) error {
	r, err := a.sessions.VerifyPhoneNumber(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if r.Approved() {
		fmt.Fprintln(a.out, "Phone number verified")
	} else {
		fmt.Fprintf(a.out, "Code rejected (status %s)\n", r.Status)
	}
	return nil
}

func (a *App) printPair(p *services.TokenPair) {
	fmt.Fprintf(a.out, "access_token: %s\n", p.AccessToken)
	fmt.Fprintf(a.out, "access_expires: %s\n", p.AccessExpires.Format(time.RFC3339))
	fmt.Fprintf(a.out, "refresh_token: %s\n", p.RefreshToken)
	fmt.Fprintf(a.out, "refresh_expires: %s\n", p.RefreshExpires.Format(time.RFC3339))
}
