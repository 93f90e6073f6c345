// Package authz holds the route scoped authorization guards that run after
// authentication.
package authz

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/streamflix/gateway/internal/apierror"
	"github.com/streamflix/gateway/internal/observability"
)

// Subject is what a guard may inspect about the caller.
type Subject struct {
	UserID    string
	ProfileID string
	Roles     []string
	Method    string
	Path      string
	Route     string
}

// Guard admits or refuses a subject. A refusal is an *apierror.Error.
type Guard interface {
	Name() string
	Check(s Subject) error
}

// MsgProfileRequired is returned when a profile bound route is called
// without a selected profile.
const MsgProfileRequired = "Please select a profile to continue."

type profileGuard struct{}

// RequireProfile refuses callers whose token carries no profile id.
func RequireProfile() Guard { return profileGuard{} }

func (profileGuard) Name() string { return "require-profile" }

func (profileGuard) Check(s Subject) error {
	if strings.TrimSpace(s.ProfileID) != "" {
		return nil
	}
	return apierror.New(http.StatusBadRequest, apierror.CodeProfileRequired, MsgProfileRequired)
}

// RoleGuard admits callers holding any of its roles.
type RoleGuard struct {
	roles  []string
	logger observability.Logger
}

// RequireRole creates a RoleGuard. Roles are matched exactly and OR'ed.
func RequireRole(logger observability.Logger, roles ...string) *RoleGuard {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RoleGuard{roles: append([]string(nil), roles...), logger: logger}
}

// Name implements Guard.
func (g *RoleGuard) Name() string { return "require-role" }

// Roles returns the roles the guard accepts.
func (g *RoleGuard) Roles() []string { return g.roles }

// Check implements Guard. The caller's own roles are never echoed back.
func (g *RoleGuard) Check(s Subject) error {
	for _, have := range s.Roles {
		for _, want := range g.roles {
			if have == want {
				return nil
			}
		}
	}

	required := strings.Join(g.roles, ", ")
	g.logger.Warn("access denied",
		observability.String("user_id", s.UserID),
		observability.String("route", s.Route),
		observability.String("path", s.Path),
		observability.String("required_roles", required),
	)
	return apierror.New(http.StatusForbidden, apierror.CodeAccessDenied,
		fmt.Sprintf("You do not have permission to access this resource. Required roles: %s", required))
}

// ForRoute builds the guards declared on a route, profile check first.
func ForRoute(requireProfile bool, requiredRoles []string, logger observability.Logger) []Guard {
	var guards []Guard
	if requireProfile {
		guards = append(guards, RequireProfile())
	}
	if len(requiredRoles) > 0 {
		guards = append(guards, RequireRole(logger, requiredRoles...))
	}
	return guards
}
