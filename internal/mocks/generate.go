// Package mocks provides gomock-generated mocks for the auth ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockProfileStore(ctrl)
//	store.EXPECT().CheckAdminRole(gomock.Any(), "u1").Return(domainauth.RoleCheck{IsAdmin: true}, nil)
package mocks

// Generate mock for ProfileStore interface from internal/ports package.
// This creates MockProfileStore with methods for all ProfileStore interface methods:
// GetRole, GetProfile, UpsertProfile, CheckAdminRole, RecordLogin, SetRole
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=profile_store_mock.go github.com/lanterna/lanterna-api/internal/ports ProfileStore
