// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.
package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.CredentialProvider = (*MockCredentialProvider)(nil)
	_ ports.SessionStore       = (*MemorySessionStore)(nil)
	_ ports.AuditStore         = (*MemoryAuditStore)(nil)
	_ ports.RoleMapper         = StaticRoleMapper{}
	_ ports.AuditLogger        = (*RecordingAuditLogger)(nil)
)

// MockCredentialProvider simulates an IdP. Unset funcs fall back to an in-memory account table.
type MockCredentialProvider struct {
	SignInFunc  func(ctx context.Context, in ports.SignInInput) (domainauth.ProviderSession, error)
	SignUpFunc  func(ctx context.Context, in ports.SignInInput) (domainauth.Principal, error)
	SignOutFunc func(ctx context.Context, accessToken string) error

	mu       sync.Mutex
	accounts map[string]account
	calls    map[string]int
}

type account struct {
	principal domainauth.Principal
	password  string
}

// NewMockCredentialProvider creates a provider with no accounts.
func NewMockCredentialProvider() *MockCredentialProvider {
	return &MockCredentialProvider{accounts: map[string]account{}, calls: map[string]int{}}
}

// AddAccount registers an account for the default SignIn behaviour.
func (m *MockCredentialProvider) AddAccount(p domainauth.Principal, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure()
	m.accounts[domainauth.NormalizeEmail(p.Email)] = account{principal: p, password: password}
}

// Calls returns how many times method was invoked.
func (m *MockCredentialProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockCredentialProvider) ensure() {
	if m.accounts == nil {
		m.accounts = map[string]account{}
	}
	if m.calls == nil {
		m.calls = map[string]int{}
	}
}

func (m *MockCredentialProvider) record(method string) {
	m.mu.Lock()
	m.ensure()
	m.calls[method]++
	m.mu.Unlock()
}

func (m *MockCredentialProvider) SignIn(ctx context.Context, in ports.SignInInput) (domainauth.ProviderSession, error) {
	m.record("SignIn")
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, in)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[domainauth.NormalizeEmail(in.Email)]
	if !ok || acc.password != in.Password {
		return domainauth.ProviderSession{}, domainauth.ErrInvalidCredentials
	}
	return domainauth.ProviderSession{
		Principal:    acc.principal,
		AccessToken:  "access-" + acc.principal.ID,
		RefreshToken: "refresh-" + acc.principal.ID,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (m *MockCredentialProvider) SignUp(ctx context.Context, in ports.SignInInput) (domainauth.Principal, error) {
	m.record("SignUp")
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, in)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domainauth.NormalizeEmail(in.Email)
	if _, ok := m.accounts[key]; ok {
		return domainauth.Principal{}, domainauth.ErrAccountExists
	}
	p := domainauth.Principal{ID: "provisioned-" + key, Email: key}
	m.accounts[key] = account{principal: p, password: in.Password}
	return p, nil
}

func (m *MockCredentialProvider) SignOut(ctx context.Context, accessToken string) error {
	m.record("SignOut")
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, accessToken)
	}
	return nil
}

func (m *MockCredentialProvider) GetSession(_ context.Context, accessToken string) (domainauth.ProviderSession, error) {
	m.record("GetSession")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if "access-"+acc.principal.ID == accessToken {
			return domainauth.ProviderSession{Principal: acc.principal, AccessToken: accessToken}, nil
		}
	}
	return domainauth.ProviderSession{}, domainauth.ErrNoSession
}

func (m *MockCredentialProvider) RefreshSession(_ context.Context, refreshToken string) (domainauth.ProviderSession, error) {
	m.record("RefreshSession")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if "refresh-"+acc.principal.ID == refreshToken {
			return domainauth.ProviderSession{
				Principal:    acc.principal,
				AccessToken:  "access-" + acc.principal.ID,
				RefreshToken: refreshToken,
				ExpiresAt:    time.Now().Add(time.Hour),
			}, nil
		}
	}
	return domainauth.ProviderSession{}, domainauth.ErrNoSession
}

// MemorySessionStore is an in-memory session store for unit tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session // keyed by principal id

	// Err, when set, is returned by every call.
	Err error
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domainauth.Session)}
}

func (m *MemorySessionStore) CreateOrUpdate(_ context.Context, sess domainauth.Session) error {
	if m.Err != nil {
		return m.Err
	}
	if sess.ID == "" || sess.PrincipalID == "" {
		return errors.New("session and principal ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.PrincipalID] = sess
	return nil
}

func (m *MemorySessionStore) UpdateActivity(_ context.Context, principalID string, lastActivity, expiresAt time.Time) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[principalID]
	if !ok || !s.IsActive {
		return domainauth.ErrSessionNotFound
	}
	s.LastActivity = lastActivity
	if !expiresAt.IsZero() {
		s.ExpiresAt = expiresAt
	}
	m.sessions[principalID] = s
	return nil
}

func (m *MemorySessionStore) Invalidate(_ context.Context, principalID, sessionID string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if principalID == "" && sessionID == "" {
		return nil
	}
	for k, s := range m.sessions {
		if (principalID == "" || k == principalID) && (sessionID == "" || s.ID == sessionID) {
			s.IsActive = false
			m.sessions[k] = s
		}
	}
	return nil
}

func (m *MemorySessionStore) GetInfo(_ context.Context, principalID string) (domainauth.Session, error) {
	if m.Err != nil {
		return domainauth.Session{}, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[principalID]
	if !ok || !s.IsActive {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessionStore) GetBySessionID(_ context.Context, sessionID string) (domainauth.Session, error) {
	if m.Err != nil {
		return domainauth.Session{}, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == sessionID && s.IsActive {
			return s, nil
		}
	}
	return domainauth.Session{}, domainauth.ErrSessionNotFound
}

func (m *MemorySessionStore) CleanExpired(_ context.Context, now time.Time) (int, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, s := range m.sessions {
		if s.IsActive && s.ExpiredAt(now) {
			s.IsActive = false
			m.sessions[k] = s
			n++
		}
	}
	return n, nil
}

// Raw returns the stored record for principalID, active or not.
func (m *MemorySessionStore) Raw(principalID string) (domainauth.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[principalID]
	return s, ok
}

// MemoryAuditStore keeps audit entries in a slice.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []domainauth.LogEntry

	// InsertErr, when set, fails every Insert.
	InsertErr error
}

func (m *MemoryAuditStore) Insert(_ context.Context, e domainauth.LogEntry) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryAuditStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *MemoryAuditStore) Statistics(_ context.Context, since time.Time) (domainauth.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAction := map[domainauth.Action]*domainauth.ActionStats{}
	users := map[string]struct{}{}
	stats := domainauth.Statistics{Since: since}
	for _, e := range m.entries {
		if e.Timestamp.Before(since) {
			continue
		}
		as, ok := byAction[e.Action]
		if !ok {
			as = &domainauth.ActionStats{Action: e.Action}
			byAction[e.Action] = as
		}
		as.Total++
		if !e.Success {
			as.Failures++
		}
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		if e.Action == domainauth.ActionAdminCheck && e.Method == string(domainauth.MethodFallback) {
			stats.FallbackChecks++
		}
	}
	for _, as := range byAction {
		stats.Actions = append(stats.Actions, *as)
	}
	sort.Slice(stats.Actions, func(i, j int) bool { return stats.Actions[i].Action < stats.Actions[j].Action })
	stats.UniquePrincipals = int64(len(users))
	return stats, nil
}

// Entries returns a copy of the stored entries.
func (m *MemoryAuditStore) Entries() []domainauth.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domainauth.LogEntry(nil), m.entries...)
}

// RecordingAuditLogger captures log calls synchronously.
type RecordingAuditLogger struct {
	mu      sync.Mutex
	entries []domainauth.LogEntry
}

func (r *RecordingAuditLogger) Log(_ context.Context, e domainauth.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the recorded entries.
func (r *RecordingAuditLogger) Entries() []domainauth.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domainauth.LogEntry(nil), r.entries...)
}

// ByAction returns recorded entries with the given action.
func (r *RecordingAuditLogger) ByAction(a domainauth.Action) []domainauth.LogEntry {
	var out []domainauth.LogEntry
	for _, e := range r.Entries() {
		if e.Action == a {
			out = append(out, e)
		}
	}
	return out
}

// StaticRoleMapper maps groups by simple string membership rules.
type StaticRoleMapper struct {
	AdminGroup     string
	ModeratorGroup string
}

func (m StaticRoleMapper) Map(groups []string) domainauth.Role {
	for _, g := range groups {
		if m.AdminGroup != "" && g == m.AdminGroup {
			return domainauth.RoleAdmin
		}
	}
	for _, g := range groups {
		if m.ModeratorGroup != "" && g == m.ModeratorGroup {
			return domainauth.RoleModerator
		}
	}
	return domainauth.RoleUser
}
