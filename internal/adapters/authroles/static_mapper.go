// Package authroles maps identity-provider groups onto application roles.
package authroles

import (
	"slices"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/ports"
)

var _ ports.RoleMapper = StaticRoleMapper{}

// StaticRoleMapper maps groups by simple string membership rules.
// Admin membership wins over moderator; anything else is a plain user.
type StaticRoleMapper struct {
	AdminGroup     string
	ModeratorGroup string
}

func (m StaticRoleMapper) Map(groups []string) domainauth.Role {
	if m.AdminGroup != "" && slices.Contains(groups, m.AdminGroup) {
		return domainauth.RoleAdmin
	}
	if m.ModeratorGroup != "" && slices.Contains(groups, m.ModeratorGroup) {
		return domainauth.RoleModerator
	}
	return domainauth.RoleUser
}
