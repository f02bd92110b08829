// Package oidc provides an OIDC-backed CredentialProvider using the OAuth2
// resource-owner password grant.
package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/ports"
)

var _ ports.CredentialProvider = (*Provider)(nil)

// Provider implements ports.CredentialProvider against an OIDC identity provider.
type Provider struct {
	config        *oauth2.Config
	httpClient    *http.Client
	revocationURL string
	signUpURL     string

	// go-oidc provider and verifier
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID      string
	ClientSecret  string
	Scope         string
	DiscoveryURL  string
	RevocationURL string       // Optional: RFC 7009 endpoint used on sign-out
	SignUpURL     string       // Optional: registration endpoint for account provisioning
	HTTPClient    *http.Client // Optional, defaults to a 30s-timeout client
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewProvider creates a new OIDC provider. Discovery runs once, bounded by ctx.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       strings.Fields(config.Scope),
			Endpoint:     op.Endpoint(),
		},
		httpClient:    httpClient,
		revocationURL: config.RevocationURL,
		signUpURL:     config.SignUpURL,
		oidcProvider:  op,
		verifier:      op.Verifier(&gooidc.Config{ClientID: config.ClientID}),
	}, nil
}

func (p *Provider) clientCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// SignIn runs the password grant. An invalid_grant answer maps to ErrInvalidCredentials;
// any other failure is returned as the provider reported it.
func (p *Provider) SignIn(ctx context.Context, in ports.SignInInput) (domainauth.ProviderSession, error) {
	tok, err := p.config.PasswordCredentialsToken(p.clientCtx(ctx), domainauth.NormalizeEmail(in.Email), in.Password)
	if err != nil {
		return domainauth.ProviderSession{}, mapTokenError("sign in", err)
	}
	return p.session(ctx, tok)
}

// SignUp posts the credentials to the registration endpoint when one is configured.
func (p *Provider) SignUp(ctx context.Context, in ports.SignInInput) (domainauth.Principal, error) {
	if p.signUpURL == "" {
		return domainauth.Principal{}, domainauth.ErrProvisioningUnsupported
	}
	body, err := json.Marshal(map[string]string{
		"email":    domainauth.NormalizeEmail(in.Email),
		"password": in.Password,
	})
	if err != nil {
		return domainauth.Principal{}, fmt.Errorf("encode sign up: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.signUpURL, bytes.NewReader(body))
	if err != nil {
		return domainauth.Principal{}, fmt.Errorf("build sign up request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domainauth.Principal{}, fmt.Errorf("sign up: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return domainauth.Principal{}, domainauth.ErrAccountExists
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domainauth.Principal{}, fmt.Errorf("sign up: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		ID    string `json:"id"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domainauth.Principal{}, fmt.Errorf("decode sign up response: %w", err)
	}
	return domainauth.Principal{
		ID:    firstNonEmpty(out.ID, out.Sub),
		Email: firstNonEmpty(out.Email, domainauth.NormalizeEmail(in.Email)),
	}, nil
}

// SignOut revokes the access token when a revocation endpoint is configured.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	if p.revocationURL == "" || accessToken == "" {
		return nil
	}
	form := url.Values{"token": {accessToken}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("revoke token: provider returned %d", resp.StatusCode)
	}
	return nil
}

// GetSession resolves an access token through the userinfo endpoint.
func (p *Provider) GetSession(ctx context.Context, accessToken string) (domainauth.ProviderSession, error) {
	if accessToken == "" {
		return domainauth.ProviderSession{}, domainauth.ErrNoSession
	}
	var f idFields
	if err := p.fillFromUserInfo(ctx, accessToken, &f); err != nil {
		return domainauth.ProviderSession{}, fmt.Errorf("%w: %w", domainauth.ErrNoSession, err)
	}
	return domainauth.ProviderSession{Principal: f.principal(), AccessToken: accessToken}, nil
}

// RefreshSession exchanges a refresh token for a new token set.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (domainauth.ProviderSession, error) {
	if refreshToken == "" {
		return domainauth.ProviderSession{}, domainauth.ErrNoSession
	}
	src := p.config.TokenSource(p.clientCtx(ctx), &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
	tok, err := src.Token()
	if err != nil {
		return domainauth.ProviderSession{}, mapTokenError("refresh", err)
	}
	return p.session(ctx, tok)
}

func (p *Provider) session(ctx context.Context, tok *oauth2.Token) (domainauth.ProviderSession, error) {
	fields, err := p.extractFromIDToken(ctx, tok)
	if err != nil {
		return domainauth.ProviderSession{}, fmt.Errorf("extract id_token: %w", err)
	}
	if fields.email == "" || fields.userID == "" {
		if fillErr := p.fillFromUserInfo(ctx, tok.AccessToken, &fields); fillErr != nil {
			return domainauth.ProviderSession{}, fmt.Errorf("get user info: %w", fillErr)
		}
	}
	if fields.userID == "" {
		return domainauth.ProviderSession{}, errors.New("provider returned no subject")
	}

	expiresAt := time.Now().Add(time.Hour)
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry
	}
	return domainauth.ProviderSession{
		Principal:    fields.principal(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func mapTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_request") {
		desc := firstNonEmpty(re.ErrorDescription, re.ErrorCode)
		return fmt.Errorf("%s: %w: %s", op, domainauth.ErrInvalidCredentials, desc)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// UserInfo represents the user information from the OIDC userinfo endpoint.
type UserInfo struct {
	Subject  string   `json:"sub"`
	Email    string   `json:"email"`
	Mail     string   `json:"mail"`
	Groups   []string `json:"groups"`
	MemberOf []string `json:"memberof"`
}

type idFields struct {
	userID string
	email  string
	groups []string
}

func (f idFields) principal() domainauth.Principal {
	return domainauth.Principal{
		ID:     f.userID,
		Email:  domainauth.NormalizeEmail(f.email),
		Groups: slices.Clone(f.groups),
	}
}

// idTokenClaims accepts both standard OIDC and AD-style claim names.
type idTokenClaims struct {
	Sub      string   `json:"sub"`
	Email    string   `json:"email"`
	Mail     string   `json:"mail"`
	Groups   []string `json:"groups"`
	MemberOf []string `json:"memberof"`
}

func (p *Provider) extractFromIDToken(ctx context.Context, tok *oauth2.Token) (idFields, error) {
	var f idFields
	if !p.hasOpenIDScope() {
		return f, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return f, err
	}
	idTok, err := p.verifier.Verify(gooidc.ClientContext(ctx, p.httpClient), rawID)
	if err != nil {
		return f, fmt.Errorf("verify id_token: %w", err)
	}
	var claims idTokenClaims
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return f, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	return mapIDTokenClaims(claims), nil
}

func (p *Provider) fillFromUserInfo(ctx context.Context, accessToken string, f *idFields) error {
	ui, err := p.oidcProvider.UserInfo(gooidc.ClientContext(ctx, p.httpClient), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	var info UserInfo
	if claimsErr := ui.Claims(&info); claimsErr != nil {
		return fmt.Errorf("decode user info: %w", claimsErr)
	}
	fillFromUserInfoClaims(f, info)
	return nil
}

func mapIDTokenClaims(c idTokenClaims) idFields {
	return idFields{
		userID: c.Sub,
		email:  firstNonEmpty(c.Email, c.Mail),
		groups: firstNonEmptySlice(c.Groups, c.MemberOf),
	}
}

// fillFromUserInfoClaims fills missing fields only.
func fillFromUserInfoClaims(f *idFields, ui UserInfo) {
	if f.userID == "" {
		f.userID = ui.Subject
	}
	if f.email == "" {
		f.email = firstNonEmpty(ui.Email, ui.Mail)
	}
	if len(f.groups) == 0 {
		f.groups = firstNonEmptySlice(ui.Groups, ui.MemberOf)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptySlice(vals ...[]string) []string {
	for _, v := range vals {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}

func (p *Provider) hasOpenIDScope() bool {
	return slices.Contains(p.config.Scopes, "openid")
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
