package localauth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/util"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type memCredentials struct {
	mu     sync.Mutex
	byMail map[string]credential
}

type credential struct {
	p    domainauth.Principal
	hash string
}

func (m *memCredentials) Create(_ context.Context, email, hash string) (domainauth.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byMail[email]; ok {
		return domainauth.Principal{}, apperrors.New(apperrors.ErrCodeConflict, "email already registered")
	}
	p := domainauth.Principal{ID: uuid.NewString(), Email: email}
	m.byMail[email] = credential{p: p, hash: hash}
	return p, nil
}

func (m *memCredentials) GetByEmail(_ context.Context, email string) (domainauth.Principal, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byMail[email]
	if !ok {
		return domainauth.Principal{}, "", apperrors.NotFound("credential")
	}
	return c.p, c.hash, nil
}

func (m *memCredentials) GetByID(_ context.Context, id string) (domainauth.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byMail {
		if c.p.ID == id {
			return c.p, nil
		}
	}
	return domainauth.Principal{}, apperrors.NotFound("credential")
}

func newTestProvider(t *testing.T) (*Provider, *util.FixedClock) {
	t.Helper()
	clock := util.NewFixedClock(time.Now().Truncate(time.Second))
	p, err := NewProvider(&memCredentials{byMail: map[string]credential{}}, Config{
		SigningKey: testKey,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
		Clock:      clock,
	})
	require.NoError(t, err)
	return p, clock
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(nil, Config{SigningKey: testKey})
	require.Error(t, err)
	_, err = NewProvider(&memCredentials{}, Config{SigningKey: []byte("short")})
	require.Error(t, err)
}

func TestProvider_SignUpAndSignIn(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	principal, err := p.SignUp(ctx, ports.SignInInput{Email: " Chef@Lanterna.example ", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "chef@lanterna.example", principal.Email)

	ps, err := p.SignIn(ctx, ports.SignInInput{Email: "chef@lanterna.example", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, principal.ID, ps.Principal.ID)
	assert.NotEmpty(t, ps.AccessToken)
	assert.NotEmpty(t, ps.RefreshToken)
	assert.NotEqual(t, ps.AccessToken, ps.RefreshToken)

	_, err = p.SignUp(ctx, ports.SignInInput{Email: "chef@lanterna.example", Password: "another-pass"})
	require.ErrorIs(t, err, domainauth.ErrAccountExists)
}

func TestProvider_SignUpValidation(t *testing.T) {
	p, _ := newTestProvider(t)
	_, err := p.SignUp(context.Background(), ports.SignInInput{Email: "not-an-email", Password: "long enough"})
	assert.Equal(t, "email", apperrors.GetField(err))
	_, err = p.SignUp(context.Background(), ports.SignInInput{Email: "a@b.c", Password: "short"})
	assert.Equal(t, "password", apperrors.GetField(err))
}

func TestProvider_SignInRejectsBadCredentials(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	_, err := p.SignUp(ctx, ports.SignInInput{Email: "chef@lanterna.example", Password: "correct horse"})
	require.NoError(t, err)

	_, err = p.SignIn(ctx, ports.SignInInput{Email: "chef@lanterna.example", Password: "wrong"})
	require.ErrorIs(t, err, domainauth.ErrInvalidCredentials)
	_, err = p.SignIn(ctx, ports.SignInInput{Email: "nobody@lanterna.example", Password: "wrong"})
	require.ErrorIs(t, err, domainauth.ErrInvalidCredentials)
}

func TestProvider_GetSessionAndSignOut(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	_, err := p.SignUp(ctx, ports.SignInInput{Email: "chef@lanterna.example", Password: "correct horse"})
	require.NoError(t, err)
	ps, err := p.SignIn(ctx, ports.SignInInput{Email: "chef@lanterna.example", Password: "correct horse"})
	require.NoError(t, err)

	got, err := p.GetSession(ctx, ps.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, ps.Principal.ID, got.Principal.ID)

	_, err = p.GetSession(ctx, ps.RefreshToken)
	require.ErrorIs(t, err, domainauth.ErrNoSession, "refresh tokens are not access tokens")

	require.NoError(t, p.SignOut(ctx, ps.AccessToken))
	_, err = p.GetSession(ctx, ps.AccessToken)
	require.ErrorIs(t, err, domainauth.ErrNoSession)

	require.NoError(t, p.SignOut(ctx, "garbage"), "sign out of an unusable token is a no-op")
}

func TestProvider_TokenExpiryAndRefresh(t *testing.T) {
	p, clock := newTestProvider(t)
	ctx := context.Background()
	_, err := p.SignUp(ctx, ports.SignInInput{Email: "chef@lanterna.example", Password: "correct horse"})
	require.NoError(t, err)
	ps, err := p.SignIn(ctx, ports.SignInInput{Email: "chef@lanterna.example", Password: "correct horse"})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = p.GetSession(ctx, ps.AccessToken)
	require.ErrorIs(t, err, domainauth.ErrNoSession)

	refreshed, err := p.RefreshSession(ctx, ps.RefreshToken)
	require.NoError(t, err)
	_, err = p.GetSession(ctx, refreshed.AccessToken)
	require.NoError(t, err)

	_, err = p.RefreshSession(ctx, refreshed.AccessToken)
	require.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestProvider_RejectsForeignSignature(t *testing.T) {
	p, _ := newTestProvider(t)
	other, err := NewProvider(&memCredentials{byMail: map[string]credential{}}, Config{
		SigningKey: []byte(strings.Repeat("x", 32)),
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	_, err = other.SignUp(context.Background(), ports.SignInInput{Email: "a@b.c", Password: "long enough"})
	require.NoError(t, err)
	ps, err := other.SignIn(context.Background(), ports.SignInInput{Email: "a@b.c", Password: "long enough"})
	require.NoError(t, err)

	_, err = p.GetSession(context.Background(), ps.AccessToken)
	require.ErrorIs(t, err, domainauth.ErrNoSession)
}
