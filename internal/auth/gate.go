package auth

import (
	"context"
	"log/slog"
)

// RoleResolver resolves a role id to its catalogue name
type RoleResolver interface {
	RoleName(ctx context.Context, roleID int) (string, error)
}

// Gate evaluates caller claims against a required role. It holds no state
// besides its collaborators; every call resolves the role again.
type Gate struct {
	roles  RoleResolver
	logger *slog.Logger
}

// NewGate creates a new permission gate
func NewGate(roles RoleResolver, logger *slog.Logger) *Gate {
	return &Gate{
		roles:  roles,
		logger: logger,
	}
}

// Authorize returns true only when claims carry a subject and a role id that
// resolves to a role named exactly requiredRole. Every failure, including a
// lookup error, yields false.
func (g *Gate) Authorize(ctx context.Context, claims Claims, requiredRole string) bool {
	if !claims.Valid() || requiredRole == "" {
		return false
	}

	name, err := g.roles.RoleName(ctx, claims.RoleID)
	if err != nil {
		g.logger.Debug("role resolution failed", "role_id", claims.RoleID, "error", err)
		return false
	}

	return name == requiredRole
}
