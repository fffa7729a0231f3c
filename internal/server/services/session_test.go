package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGateway struct {
	receipt *models.VerificationReceipt
	result  *models.VerificationResult
	err     error
	calls   atomic.Int32
}

func (g *fakeGateway) SendCode(ctx context.Context, phoneNumber string) (*models.VerificationReceipt, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return g.receipt, nil
}

func (g *fakeGateway) CheckCode(ctx context.Context, phoneNumber, code string) (*models.VerificationResult, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

// fakeRepoManager lets a test swap one repository for a failing double.
type fakeRepoManager struct {
	u users.Repository
	t tokens.Store
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository             { return m.u }
func (m *fakeRepoManager) Tokens(*sql.DB) tokens.Store                 { return m.t }

type brokenUsers struct {
	users.Repository
	err error
}

func (b *brokenUsers) GetUser(context.Context, string) (*models.User, error) { return nil, b.err }
func (b *brokenUsers) GetUserByID(context.Context, string) (*models.User, error) {
	return nil, b.err
}

type brokenStore struct {
	tokens.Store
	err error
}

func (b *brokenStore) Save(context.Context, *models.Token) error { return b.err }
func (b *brokenStore) FindActive(context.Context, string, models.TokenKind) (*models.Token, error) {
	return nil, b.err
}

type env struct {
	svc     *SessionService
	clock   *clock
	users   *users.MemoryRepository
	store   *tokens.MemoryStore
	gateway *fakeGateway
	codec   *auth.Codec
	logs    *bytes.Buffer
	reg     *prometheus.Registry
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	return cfg
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := auth.NewCodec(auth.CodecConfig{Secret: []byte("test-secret"), Issuer: "gophauth", Now: clk.Now})
	require.NoError(t, err)

	u := users.NewMemoryRepository(bcrypt.MinCost)
	s := tokens.NewMemoryStoreWithClock(clk.Now)
	gw := &fakeGateway{
		receipt: &models.VerificationReceipt{SID: "VE1", Status: "pending"},
		result:  &models.VerificationResult{SID: "VE1", Status: models.VerificationStatusApproved, Valid: true},
	}

	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	svc := NewSessionService(nil, repomanager.NewInMemoryRepositoryManager(u, s), codec, gw, testConfig(),
		logging.NewJSONLogger(&logs, slog.LevelDebug), metrics.NewCollector(reg))

	return &env{svc: svc, clock: clk, users: u, store: s, gateway: gw, codec: codec, logs: &logs, reg: reg}
}

func (e *env) withManager(m repomanager.RepositoryManager) *SessionService {
	return NewSessionService(nil, m, e.codec, e.gateway, testConfig(), logging.Nop(), nil)
}

func (e *env) createUser(t *testing.T, email, password string, verified bool) *models.User {
	t.Helper()
	u, err := e.users.Create(context.Background(), &models.User{Name: "Test", Email: email, IsVerified: verified}, password)
	require.NoError(t, err)
	return u
}

func (e *env) login(t *testing.T, email, password string) *TokenPair {
	t.Helper()
	ctx := context.Background()
	u, err := e.svc.Login(ctx, email, password)
	require.NoError(t, err)
	pair, err := e.svc.IssueAuthTokens(ctx, u)
	require.NoError(t, err)
	return pair
}

// --- login ---

func TestLogin_Success(t *testing.T) {
	e := newEnv(t)
	created := e.createUser(t, "ann@example.com", "password1", true)

	u, err := e.svc.Login(context.Background(), "ann@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)
}

func TestLogin_WrongPasswordAndUnknownUserAreIndistinguishable(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	_, errBadPass := e.svc.Login(ctx, "ann@example.com", "password2")
	_, errNoUser := e.svc.Login(ctx, "nobody@example.com", "password1")

	require.Error(t, errBadPass)
	require.Error(t, errNoUser)
	assert.ErrorIs(t, errBadPass, autherr.ErrUnauthorized)
	assert.ErrorIs(t, errNoUser, autherr.ErrUnauthorized)
	assert.Equal(t, errBadPass.Error(), errNoUser.Error())
	assert.Equal(t, "Incorrect email or password", errNoUser.Error())

	assert.ErrorIs(t, errBadPass, ErrBadPassword)
	assert.ErrorIs(t, errNoUser, ErrNoSuchUser)
	assert.ErrorIs(t, errNoUser, common.ErrorNotFound)
}

func TestLogin_NotVerified(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "bob@example.com", "password1", false)
	ctx := context.Background()

	_, err := e.svc.Login(ctx, "bob@example.com", "password1")
	assert.ErrorIs(t, err, autherr.ErrForbidden)
	assert.ErrorIs(t, err, ErrNotVerified)
	assert.Equal(t, "Account not verified", err.Error())

	_, err = e.svc.Login(ctx, "bob@example.com", "wrongpass1")
	assert.ErrorIs(t, err, autherr.ErrUnauthorized)
}

func TestLogin_DirectoryFailureIsInternal(t *testing.T) {
	e := newEnv(t)
	dbErr := errors.New("connection reset")
	svc := e.withManager(&fakeRepoManager{u: &brokenUsers{err: dbErr}, t: e.store})

	_, err := svc.Login(context.Background(), "ann@example.com", "password1")
	assert.ErrorIs(t, err, autherr.ErrInternal)
	assert.ErrorIs(t, err, dbErr)
	assert.NotContains(t, err.Error(), "connection reset")
}

// --- refresh ---

func TestRefreshAuth_RotationScenario(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	r := e.login(t, "ann@example.com", "password1")
	assert.Equal(t, e.clock.Now().Add(30*24*time.Hour), r.RefreshExpires)
	assert.Equal(t, e.clock.Now().Add(30*time.Minute), r.AccessExpires)

	pair, err := e.svc.RefreshAuth(ctx, r.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, r.RefreshToken, pair.RefreshToken)

	_, err = e.store.FindActive(ctx, r.RefreshToken, models.TokenRefresh)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = e.svc.RefreshAuth(ctx, r.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, "Please authenticate", err.Error())

	next, err := e.svc.RefreshAuth(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.Equal(t, 1, e.store.Len())
}

func TestRefreshAuth_ConcurrentAtMostOneSucceeds(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	r := e.login(t, "ann@example.com", "password1")

	const n = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.svc.RefreshAuth(context.Background(), r.RefreshToken)
			if err == nil {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, 1, e.store.Len())
}

func TestRefreshAuth_Failures(t *testing.T) {
	e := newEnv(t)
	user := e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	t.Run("malformed", func(t *testing.T) {
		_, err := e.svc.RefreshAuth(ctx, "not-a-token")
		assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
		assert.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("wrong kind", func(t *testing.T) {
		pair := e.login(t, "ann@example.com", "password1")
		_, err := e.svc.RefreshAuth(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
		assert.ErrorIs(t, err, common.ErrWrongTokenKind)
	})

	t.Run("never stored", func(t *testing.T) {
		tok, err := e.codec.Issue(user.ID, models.TokenRefresh, time.Hour)
		require.NoError(t, err)
		_, err = e.svc.RefreshAuth(ctx, tok.Value)
		assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("user vanished", func(t *testing.T) {
		tok, err := e.codec.Issue("ghost", models.TokenRefresh, time.Hour)
		require.NoError(t, err)
		require.NoError(t, e.store.Save(ctx, tok))

		_, err = e.svc.RefreshAuth(ctx, tok.Value)
		assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
		assert.ErrorIs(t, err, common.ErrorNotFound)

		// the token survives a failed refresh
		_, err = e.store.FindActive(ctx, tok.Value, models.TokenRefresh)
		assert.NoError(t, err)
	})

	t.Run("blacklisted", func(t *testing.T) {
		tok, err := e.codec.Issue(user.ID, models.TokenRefresh, time.Hour)
		require.NoError(t, err)
		tok.Revoked = true
		require.NoError(t, e.store.Save(ctx, tok))

		_, err = e.svc.RefreshAuth(ctx, tok.Value)
		assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		pair := e.login(t, "ann@example.com", "password1")
		e.clock.Advance(31 * 24 * time.Hour)
		_, err := e.svc.RefreshAuth(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
		assert.ErrorIs(t, err, common.ErrTokenExpired)
		assert.Equal(t, "Please authenticate", err.Error())
	})
}

func TestRefreshAuth_StoreFailureIsUnauthenticated(t *testing.T) {
	e := newEnv(t)
	user := e.createUser(t, "ann@example.com", "password1", true)
	dbErr := errors.New("db down")
	svc := e.withManager(&fakeRepoManager{u: e.users, t: &brokenStore{Store: e.store, err: dbErr}})

	tok, err := e.codec.Issue(user.ID, models.TokenRefresh, time.Hour)
	require.NoError(t, err)

	_, err = svc.RefreshAuth(context.Background(), tok.Value)
	assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, autherr.KindUnauthenticated, autherr.KindOf(err))
}

func TestIssueAuthTokens_StoreFailure(t *testing.T) {
	e := newEnv(t)
	svc := e.withManager(&fakeRepoManager{u: e.users, t: &brokenStore{Store: e.store, err: common.ErrDuplicateToken}})

	_, err := svc.IssueAuthTokens(context.Background(), &models.User{ID: "u1"})
	assert.ErrorIs(t, err, autherr.ErrInternal)
	assert.ErrorIs(t, err, common.ErrDuplicateToken)
}

// --- logout ---

func TestLogout(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	err := e.svc.Logout(ctx, "unknown-token")
	assert.ErrorIs(t, err, autherr.ErrNotFound)
	assert.Equal(t, "Not found", err.Error())

	pair := e.login(t, "ann@example.com", "password1")
	require.NoError(t, e.svc.Logout(ctx, pair.RefreshToken))

	// logging out twice is reported, while the store stays idempotent
	assert.ErrorIs(t, e.svc.Logout(ctx, pair.RefreshToken), autherr.ErrNotFound)
	assert.NoError(t, e.store.Invalidate(ctx, pair.RefreshToken))

	_, err = e.svc.RefreshAuth(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
}

func TestLogoutAll(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	p1 := e.login(t, "ann@example.com", "password1")
	p2 := e.login(t, "ann@example.com", "password1")

	require.NoError(t, e.svc.LogoutAll(ctx, "someone-else"))
	assert.Equal(t, 2, e.store.Len())

	u, err := e.users.GetUser(ctx, "ann@example.com")
	require.NoError(t, err)
	require.NoError(t, e.svc.LogoutAll(ctx, u.ID))
	assert.Equal(t, 0, e.store.Len())

	for _, tok := range []string{p1.RefreshToken, p2.RefreshToken} {
		_, err := e.svc.RefreshAuth(ctx, tok)
		assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
	}
}

// --- password reset ---

func TestResetPassword_Success(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	tok, err := e.svc.ForgotPassword(ctx, "ann@example.com")
	require.NoError(t, err)

	require.NoError(t, e.svc.ResetPassword(ctx, tok, "newpass123"))

	_, err = e.svc.Login(ctx, "ann@example.com", "password1")
	assert.ErrorIs(t, err, autherr.ErrUnauthorized)
	_, err = e.svc.Login(ctx, "ann@example.com", "newpass123")
	assert.NoError(t, err)

	err = e.svc.ResetPassword(ctx, tok, "another123")
	assert.ErrorIs(t, err, autherr.ErrResetFailed)
	assert.Equal(t, "Password reset failed", err.Error())
}

func TestResetPassword_SecondLinkFailsAfterFirstCompletes(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	first, err := e.svc.ForgotPassword(ctx, "ann@example.com")
	require.NoError(t, err)
	second, err := e.svc.ForgotPassword(ctx, "ann@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.NoError(t, e.svc.ResetPassword(ctx, first, "newpass123"))

	err = e.svc.ResetPassword(ctx, second, "hijack1234")
	assert.ErrorIs(t, err, autherr.ErrResetFailed)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 0, e.store.Len())

	_, err = e.svc.Login(ctx, "ann@example.com", "newpass123")
	assert.NoError(t, err)
}

func TestResetPassword_ConcurrentSiblingsAtMostOneSucceeds(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	const n = 8
	links := make([]string, n)
	for i := range links {
		tok, err := e.svc.ForgotPassword(ctx, "ann@example.com")
		require.NoError(t, err)
		links[i] = tok
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(link string) {
			defer wg.Done()
			<-start
			if err := e.svc.ResetPassword(ctx, link, "newpass123"); err == nil {
				successes.Add(1)
			} else {
				assert.ErrorIs(t, err, autherr.ErrResetFailed)
			}
		}(links[i])
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, 0, e.store.Len())
}

// txRecordingManager records the handles the user directory is bound to.
type txRecordingManager struct {
	repomanager.RepositoryManager
	mu      sync.Mutex
	handles []dbx.DBTX
}

func (m *txRecordingManager) Users(db dbx.DBTX) users.Repository {
	m.mu.Lock()
	m.handles = append(m.handles, db)
	m.mu.Unlock()
	return m.RepositoryManager.Users(db)
}

func TestResetPassword_PostgresUpdatesPasswordInRedeemTransaction(t *testing.T) {
	const (
		qGetByID    = `(?s)SELECT\s+id,\s*name,\s*email,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1`
		qLockFamily = `(?s)SELECT\s+token,\s*expires_at,\s*blacklisted\s+FROM\s+tokens\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+type\s*=\s*\$2\s+FOR\s+UPDATE`
		qUpdate     = `(?s)UPDATE\s+users\s+SET\s+password_hash\s*=\s*\$2`
		qDelFamily  = `(?s)DELETE\s+FROM\s+tokens\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+type\s*=\s*\$2`
	)
	userCols := []string{"id", "name", "email", "phone_number", "password_hash", "is_verified", "created_at"}
	userRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(userCols).AddRow("u-42", "Ann", "ann@example.com", "", []byte("old"), true, time.Now())
	}

	run := func(t *testing.T, deleteErr error) (*txRecordingManager, error) {
		e := newEnv(t)
		reset, err := e.codec.Issue("u-42", models.TokenResetPassword, 10*time.Minute)
		require.NoError(t, err)

		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(qGetByID).WithArgs("u-42").WillReturnRows(userRow())
		mock.ExpectBegin()
		mock.ExpectQuery(qLockFamily).WithArgs("u-42", "resetPassword").
			WillReturnRows(sqlmock.NewRows([]string{"token", "expires_at", "blacklisted"}).
				AddRow(reset.Value, time.Now().Add(time.Hour), false).
				AddRow("sibling", time.Now().Add(time.Hour), false))
		mock.ExpectQuery(qUpdate).WithArgs("u-42", sqlmock.AnyArg()).WillReturnRows(userRow())
		if deleteErr == nil {
			mock.ExpectExec(qDelFamily).WithArgs("u-42", "resetPassword").WillReturnResult(sqlmock.NewResult(0, 2))
			mock.ExpectCommit()
		} else {
			mock.ExpectExec(qDelFamily).WithArgs("u-42", "resetPassword").WillReturnError(deleteErr)
			mock.ExpectRollback()
		}

		m := &txRecordingManager{RepositoryManager: repomanager.NewPostgresRepositoryManager()}
		svc := NewSessionService(db, m, e.codec, e.gateway, testConfig(), logging.Nop(), nil)

		resetErr := svc.ResetPassword(context.Background(), reset.Value, "newpass123")
		require.NoError(t, mock.ExpectationsWereMet())
		return m, resetErr
	}

	t.Run("commit", func(t *testing.T) {
		m, err := run(t, nil)
		require.NoError(t, err)

		m.mu.Lock()
		defer m.mu.Unlock()
		require.NotEmpty(t, m.handles)
		_, onTx := m.handles[len(m.handles)-1].(*sql.Tx)
		assert.True(t, onTx, "password update must use the redeeming transaction")
	})

	t.Run("deletion failure rolls the password back", func(t *testing.T) {
		m, err := run(t, errors.New("connection reset"))
		assert.ErrorIs(t, err, autherr.ErrResetFailed)

		m.mu.Lock()
		defer m.mu.Unlock()
		_, onTx := m.handles[len(m.handles)-1].(*sql.Tx)
		assert.True(t, onTx)
	})
}

func TestResetPassword_Failures(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()

	t.Run("malformed", func(t *testing.T) {
		err := e.svc.ResetPassword(ctx, "garbage", "newpass123")
		assert.ErrorIs(t, err, autherr.ErrResetFailed)
		assert.ErrorIs(t, err, common.ErrInvalidToken)
	})

	t.Run("refresh token presented", func(t *testing.T) {
		pair := e.login(t, "ann@example.com", "password1")
		err := e.svc.ResetPassword(ctx, pair.RefreshToken, "newpass123")
		assert.ErrorIs(t, err, autherr.ErrResetFailed)
		assert.ErrorIs(t, err, common.ErrWrongTokenKind)
	})

	t.Run("user vanished", func(t *testing.T) {
		tok, err := e.codec.Issue("ghost", models.TokenResetPassword, time.Minute)
		require.NoError(t, err)
		require.NoError(t, e.store.Save(ctx, tok))
		err = e.svc.ResetPassword(ctx, tok.Value, "newpass123")
		assert.ErrorIs(t, err, autherr.ErrResetFailed)
	})

	t.Run("weak password keeps the link usable", func(t *testing.T) {
		tok, err := e.svc.ForgotPassword(ctx, "ann@example.com")
		require.NoError(t, err)

		err = e.svc.ResetPassword(ctx, tok, "short")
		assert.ErrorIs(t, err, autherr.ErrResetFailed)
		assert.ErrorIs(t, err, common.ErrorValidation)

		assert.NoError(t, e.svc.ResetPassword(ctx, tok, "longenough1"))
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := e.svc.ForgotPassword(ctx, "ann@example.com")
		require.NoError(t, err)
		e.clock.Advance(11 * time.Minute)
		err = e.svc.ResetPassword(ctx, tok, "newpass123")
		assert.ErrorIs(t, err, autherr.ErrResetFailed)
		assert.ErrorIs(t, err, common.ErrTokenExpired)
	})
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.ForgotPassword(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, autherr.ErrNotFound)
}

// --- email verification ---

func TestVerifyEmail(t *testing.T) {
	e := newEnv(t)
	user := e.createUser(t, "ann@example.com", "password1", false)
	ctx := context.Background()

	tok, err := e.svc.IssueVerifyEmailToken(ctx, user)
	require.NoError(t, err)
	_, err = e.svc.IssueVerifyEmailToken(ctx, user)
	require.NoError(t, err)

	got, err := e.svc.VerifyEmail(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, 0, e.store.Len())

	_, err = e.svc.VerifyEmail(ctx, tok)
	assert.ErrorIs(t, err, autherr.ErrUnauthenticated)

	_, err = e.svc.VerifyEmail(ctx, "garbage")
	assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
}

// --- access tokens ---

func TestAuthenticate(t *testing.T) {
	e := newEnv(t)
	user := e.createUser(t, "ann@example.com", "password1", true)
	ctx := context.Background()
	pair := e.login(t, "ann@example.com", "password1")

	id, err := e.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	_, err = e.svc.Authenticate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrUnauthenticated)

	e.clock.Advance(31 * time.Minute)
	_, err = e.svc.Authenticate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

// --- OTP ---

func TestRequestOneTimePassword_PassThrough(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	receipt, err := e.svc.RequestOneTimePassword(ctx, "+15005550006")
	require.NoError(t, err)
	assert.Equal(t, "VE1", receipt.SID)

	result, err := e.svc.VerifyPhoneNumber(ctx, "+15005550006", "123456")
	require.NoError(t, err)
	assert.True(t, result.Approved())
	assert.Equal(t, int32(2), e.gateway.calls.Load())
}

func TestRequestOneTimePassword_ProviderErrorsAreGeneric(t *testing.T) {
	e := newEnv(t)
	providerErr := errors.New("21211: invalid 'To' phone number")
	e.gateway.err = providerErr
	ctx := context.Background()

	_, err := e.svc.RequestOneTimePassword(ctx, "+1000")
	assert.ErrorIs(t, err, autherr.ErrVerificationUnavailable)
	assert.ErrorIs(t, err, providerErr)
	assert.Equal(t, "Something went wrong", err.Error())

	_, err = e.svc.VerifyPhoneNumber(ctx, "+1000", "123456")
	assert.ErrorIs(t, err, autherr.ErrVerificationUnavailable)
	assert.NotContains(t, err.Error(), "21211")
}

func TestRequestOneTimePassword_ProviderUnreachable(t *testing.T) {
	e := newEnv(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	gw, err := verification.NewTwilioGateway(verification.TwilioConfig{
		AccountSID: "AC1", AuthToken: "tok", ServiceSID: "VA1",
		BaseURL: baseURL, Timeout: time.Second,
	})
	require.NoError(t, err)
	svc := NewSessionService(nil, repomanager.NewInMemoryRepositoryManager(e.users, e.store), e.codec, gw, testConfig(), logging.Nop(), nil)

	_, err = svc.RequestOneTimePassword(context.Background(), "+15005550006")
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrVerificationUnavailable)
	assert.Equal(t, "Something went wrong", err.Error())

	var perr *verification.ProviderError
	assert.False(t, errors.As(err, &perr))
}

// --- observability ---

func TestOperations_AreRecordedAndLogsCarryNoSecrets(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "ann@example.com", "supersecret1", true)
	ctx := context.Background()

	pair := e.login(t, "ann@example.com", "supersecret1")
	_, _ = e.svc.Login(ctx, "ann@example.com", "wrongsecret1")
	_, err := e.svc.RefreshAuth(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, _ = e.svc.RequestOneTimePassword(ctx, "+15005550006")

	count := func(op, outcome string) float64 {
		mfs, err := e.reg.Gather()
		require.NoError(t, err)
		for _, mf := range mfs {
			if mf.GetName() != "gophauth_operations_total" {
				continue
			}
			for _, m := range mf.GetMetric() {
				labels := map[string]string{}
				for _, l := range m.GetLabel() {
					labels[l.GetName()] = l.GetValue()
				}
				if labels["op"] == op && labels["outcome"] == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
		return 0
	}
	assert.Equal(t, 1.0, count("login", metrics.OutcomeSuccess))
	assert.Equal(t, 1.0, count("login", "unauthorized"))
	assert.Equal(t, 1.0, count("refresh_auth", metrics.OutcomeSuccess))
	issuedSeries, err := testutil.GatherAndCount(e.reg, "gophauth_tokens_issued_total")
	require.NoError(t, err)
	assert.Equal(t, 2, issuedSeries)

	logs := e.logs.String()
	assert.Contains(t, logs, `"op":"login"`)
	assert.NotContains(t, logs, "supersecret1")
	assert.NotContains(t, logs, "wrongsecret1")
	assert.NotContains(t, logs, pair.RefreshToken)
	assert.NotContains(t, logs, pair.AccessToken)
	assert.NotContains(t, logs, "+15005550006")
	assert.Contains(t, logs, "**********06")
}
