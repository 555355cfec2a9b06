// Package rbac evaluates role-based permissions with inheritance. Roles form
// a DAG (cycles rejected at create time); effective permissions are the
// transitive union over inheritFrom. Context predicates are CEL expressions
// over the request context map. Every denial is recorded to the audit chain.
package rbac

import "time"

// Permission grants an action on a resource, optionally gated by a CEL
// predicate over the request context (e.g. "context.duration <= 300").
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Context  string `json:"context,omitempty"`
}

// Role is a named permission set. Built-in roles cannot be deleted.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	IsBuiltin   bool         `json:"isBuiltin"`
	Permissions []Permission `json:"permissions"`
	InheritFrom []string     `json:"inheritFrom,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Request is one permission check.
type Request struct {
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context,omitempty"`
}

// Decision is the outcome of a check.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// Built-in role names. Seeded on startup; protected from deletion.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
	RoleAuditor  = "auditor"
)

// BuiltinRoles returns the four seeded roles. The admin role holds the
// universal grant; operator inherits viewer and adds write access to the
// working surfaces; auditor reads and verifies the audit chain only.
func BuiltinRoles() []Role {
	return []Role{
		{
			ID:        RoleAdmin,
			Name:      "Administrator",
			IsBuiltin: true,
			Permissions: []Permission{
				{Resource: "*", Action: "*"},
			},
		},
		{
			ID:        RoleOperator,
			Name:      "Operator",
			IsBuiltin: true,
			Permissions: []Permission{
				{Resource: "tasks", Action: "*"},
				{Resource: "brain:*", Action: "*"},
				{Resource: "model:*", Action: "*"},
				{Resource: "integrations", Action: "read"},
				{Resource: "soul:*", Action: "read"},
			},
			InheritFrom: []string{RoleViewer},
		},
		{
			ID:        RoleViewer,
			Name:      "Viewer",
			IsBuiltin: true,
			Permissions: []Permission{
				{Resource: "*", Action: "read"},
			},
		},
		{
			ID:        RoleAuditor,
			Name:      "Auditor",
			IsBuiltin: true,
			Permissions: []Permission{
				{Resource: "audit", Action: "read"},
				{Resource: "audit", Action: "verify"},
				{Resource: "audit", Action: "export"},
			},
		},
	}
}
