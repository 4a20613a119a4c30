package model

import "time"

// RoleGrant — локальное повышение роли пользователя поверх роли из IdP.
// Хранится в таблице role_grants.
type RoleGrant struct {
	// Subject — идентификатор пользователя в IdP (sub)
	Subject string
	// Role — выданная роль (readonly, staff, admin)
	Role string
	// GrantedBy — кто выдал роль
	GrantedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}
