// Package localauth provides a Postgres-backed CredentialProvider with bcrypt
// password hashes and HS256-signed access and refresh tokens.
package localauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/util"
)

var _ ports.CredentialProvider = (*Provider)(nil)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	// MinPasswordLength is enforced on SignUp only.
	MinPasswordLength = 8
)

// dummyHash keeps the cost of a lookup miss close to a password mismatch.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("lanterna-timing-equaliser"), bcrypt.DefaultCost)

// Config controls the local provider.
type Config struct {
	SigningKey []byte        // Required
	Issuer     string        // default "lanterna"
	AccessTTL  time.Duration // default 1h
	RefreshTTL time.Duration // default 7 days
	BcryptCost int           // default bcrypt.DefaultCost
	Clock      util.Clock
}

// Provider implements ports.CredentialProvider against a CredentialStore.
type Provider struct {
	store ports.CredentialStore
	cfg   Config

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> token expiry
}

type claims struct {
	Email  string   `json:"email"`
	Groups []string `json:"groups,omitempty"`
	Type   string   `json:"typ"`
	jwt.RegisteredClaims
}

// NewProvider constructs a local provider.
func NewProvider(store ports.CredentialStore, cfg Config) (*Provider, error) {
	if store == nil {
		return nil, errors.New("local auth: CredentialStore is required")
	}
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("local auth: signing key must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "lanterna"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	cfg.Clock = util.OrSystem(cfg.Clock)
	return &Provider{store: store, cfg: cfg, revoked: make(map[string]time.Time)}, nil
}

// SignIn verifies the password hash and issues a token pair.
func (p *Provider) SignIn(ctx context.Context, in ports.SignInInput) (domainauth.ProviderSession, error) {
	email := domainauth.NormalizeEmail(in.Email)
	principal, hash, err := p.store.GetByEmail(ctx, email)
	if err != nil {
		if isMissing(err) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(in.Password))
			return domainauth.ProviderSession{}, fmt.Errorf("sign in: %w", domainauth.ErrInvalidCredentials)
		}
		return domainauth.ProviderSession{}, fmt.Errorf("sign in: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Password)); err != nil {
		return domainauth.ProviderSession{}, fmt.Errorf("sign in: %w", domainauth.ErrInvalidCredentials)
	}
	return p.issue(principal)
}

// SignUp hashes the password and creates the account.
func (p *Provider) SignUp(ctx context.Context, in ports.SignInInput) (domainauth.Principal, error) {
	email := domainauth.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domainauth.Principal{}, apperrors.ValidationField("email", "a valid email is required")
	}
	if len(in.Password) < MinPasswordLength {
		return domainauth.Principal{}, apperrors.ValidationField("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), p.cfg.BcryptCost)
	if err != nil {
		return domainauth.Principal{}, fmt.Errorf("hash password: %w", err)
	}
	principal, err := p.store.Create(ctx, email, string(hash))
	if err != nil {
		if apperrors.IsConflict(err) {
			return domainauth.Principal{}, domainauth.ErrAccountExists
		}
		return domainauth.Principal{}, fmt.Errorf("sign up: %w", err)
	}
	return principal, nil
}

// SignOut revokes the access token until it would have expired anyway.
func (p *Provider) SignOut(_ context.Context, accessToken string) error {
	c, err := p.parse(accessToken, tokenTypeAccess)
	if err != nil {
		// Already unusable.
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.cfg.Clock.Now()
	for jti, exp := range p.revoked {
		if !exp.After(now) {
			delete(p.revoked, jti)
		}
	}
	p.revoked[c.ID] = c.ExpiresAt.Time
	return nil
}

// GetSession validates an access token and reloads the account behind it.
func (p *Provider) GetSession(ctx context.Context, accessToken string) (domainauth.ProviderSession, error) {
	c, err := p.parse(accessToken, tokenTypeAccess)
	if err != nil {
		return domainauth.ProviderSession{}, err
	}
	principal, err := p.store.GetByID(ctx, c.Subject)
	if err != nil {
		if isMissing(err) {
			return domainauth.ProviderSession{}, domainauth.ErrNoSession
		}
		return domainauth.ProviderSession{}, fmt.Errorf("get session: %w", err)
	}
	return domainauth.ProviderSession{
		Principal:   principal,
		AccessToken: accessToken,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}

// RefreshSession issues a new token pair from a valid refresh token.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (domainauth.ProviderSession, error) {
	c, err := p.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return domainauth.ProviderSession{}, err
	}
	principal, err := p.store.GetByID(ctx, c.Subject)
	if err != nil {
		if isMissing(err) {
			return domainauth.ProviderSession{}, domainauth.ErrNoSession
		}
		return domainauth.ProviderSession{}, fmt.Errorf("refresh session: %w", err)
	}
	return p.issue(principal)
}

func (p *Provider) issue(principal domainauth.Principal) (domainauth.ProviderSession, error) {
	now := p.cfg.Clock.Now()
	access, accessExp, err := p.sign(principal, tokenTypeAccess, now, p.cfg.AccessTTL)
	if err != nil {
		return domainauth.ProviderSession{}, err
	}
	refresh, _, err := p.sign(principal, tokenTypeRefresh, now, p.cfg.RefreshTTL)
	if err != nil {
		return domainauth.ProviderSession{}, err
	}
	return domainauth.ProviderSession{
		Principal:    principal,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
	}, nil
}

func (p *Provider) sign(principal domainauth.Principal, typ string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email:  principal.Email,
		Groups: principal.Groups,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.cfg.Issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(p.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

func (p *Provider) parse(raw, typ string) (*claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, domainauth.ErrNoSession
	}
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return p.cfg.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.cfg.Clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domainauth.ErrNoSession, err)
	}
	if c.Type != typ {
		return nil, fmt.Errorf("%w: unexpected token type %q", domainauth.ErrNoSession, c.Type)
	}
	p.mu.Lock()
	_, revoked := p.revoked[c.ID]
	p.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("%w: token revoked", domainauth.ErrNoSession)
	}
	return &c, nil
}

// isMissing matches both not_found and profile_not_found store errors.
func isMissing(err error) bool {
	return errors.Is(err, domainauth.ErrProfileNotFound)
}
