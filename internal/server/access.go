package server

import (
	"net/http"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
)

const headerActorRole = "X-Actor-Role"

const (
	RoleAdmin      = "admin"
	RoleOperations = "operations"
	RoleCompliance = "compliance"
	RoleCustomer   = "customer"
	RoleProvider   = "provider"
)

// policy maps "<resource>:<verb>" actions to the roles allowed to perform
// them.
var policy = map[string][]string{
	"rfq:create":    {RoleCustomer, RoleOperations, RoleAdmin},
	"rfq:cancel":    {RoleOperations, RoleAdmin},
	"rfq:view":      {RoleCustomer, RoleOperations, RoleAdmin, RoleCompliance},
	"quote:submit":  {RoleProvider, RoleOperations, RoleAdmin},
	"quote:view":    {RoleOperations, RoleAdmin, RoleCompliance},
	"award:execute": {RoleOperations, RoleAdmin},
	"award:view":    {RoleOperations, RoleAdmin, RoleCompliance},

	"settlement:start":           {RoleOperations, RoleAdmin},
	"settlement:submit_evidence": {RoleProvider},
	"settlement:verify":          {RoleOperations, RoleAdmin},
	"settlement:view":            {RoleOperations, RoleAdmin, RoleCompliance},

	"partial_fill:reallocate": {RoleOperations, RoleAdmin},
	"partial_fill:cancel":     {RoleOperations, RoleAdmin},
	"partial_fill:view":       {RoleOperations, RoleAdmin, RoleCompliance},

	"dispute:file":            {RoleCustomer, RoleProvider},
	"dispute:submit_evidence": {RoleCustomer, RoleProvider},
	"dispute:review":          {RoleAdmin},
	"dispute:decide":          {RoleAdmin},
	"dispute:escalate":        {RoleAdmin},
	"dispute:get":             {RoleAdmin, RoleCustomer, RoleProvider},
	"dispute:list":            {RoleAdmin},
	"dispute:get_evidence":    {RoleAdmin},

	"audit:view": {RoleAdmin, RoleCompliance},
}

// Allowed reports whether role may perform action. Unknown actions are
// denied.
func Allowed(role, action string) bool {
	for _, r := range policy[action] {
		if r == role {
			return true
		}
	}
	return false
}

// authorize checks the actor role header when enforcement is on. A denial
// is written to the access log and answered with 403.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, action string) bool {
	if !s.deps.EnforceRoles {
		return true
	}
	role := r.Header.Get(headerActorRole)
	if Allowed(role, action) {
		return true
	}
	if s.deps.Audit != nil {
		if _, err := s.deps.Audit.Append(event.DomainAccess, event.AccessDenied{
			Role:   role,
			Action: action,
			Method: r.Method,
			Path:   r.URL.Path,
		}); err != nil {
			s.deps.Logger.Error().Err(err).Str("action", action).Msg("access audit degraded")
		}
	}
	s.deps.Logger.Warn().
		Str("role", role).
		Str("action", action).
		Str("path", r.URL.Path).
		Msg("access denied")
	s.writeError(w, r, core.Errorf(core.ErrDenied, "role %q may not %s", role, action))
	return false
}
