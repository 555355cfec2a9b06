package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
)

// RoleSource resolves roles for the engine. *Store satisfies it.
type RoleSource interface {
	Get(ctx context.Context, id string) (*Role, error)
}

// Auditor is the slice of the audit chain the engine needs.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) (*audit.Entry, error)
}

// Engine answers permission checks. CEL programs are compiled once per
// distinct predicate expression and cached under a double-checked lock.
type Engine struct {
	roles   RoleSource
	auditor Auditor
	logger  *slog.Logger

	env     *cel.Env
	cacheMu sync.RWMutex
	cache   map[string]cel.Program
}

// NewEngine builds the CEL environment and returns the engine. Predicates
// see the request context as the map variable "context".
func NewEngine(roles RoleSource, auditor Auditor) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("rbac: cel environment: %w", err)
	}
	return &Engine{
		roles:   roles,
		auditor: auditor,
		logger:  slog.Default().With("component", "rbac"),
		env:     env,
		cache:   make(map[string]cel.Program),
	}, nil
}

// CheckPermission resolves the role's effective permissions (transitive
// union over inheritFrom, cycle-safe) and matches them against the request.
// Denials record permission_denied at warn; the caller still receives the
// decision, not an error.
func (e *Engine) CheckPermission(ctx context.Context, roleID string, req Request, userID string) (Decision, error) {
	perms, err := e.effectivePermissions(ctx, roleID)
	if err != nil {
		return Decision{}, err
	}

	for _, p := range perms {
		if !matchResource(p.Resource, req.Resource) || !matchAction(p.Action, req.Action) {
			continue
		}
		if p.Context == "" {
			return Decision{Granted: true}, nil
		}
		ok, err := e.evalPredicate(p.Context, req.Context)
		if err != nil {
			e.logger.Warn("context predicate failed", "expr", p.Context, "error", err)
			continue
		}
		if ok {
			return Decision{Granted: true}, nil
		}
	}

	reason := fmt.Sprintf("role %q has no permission for %s on %s", roleID, req.Action, req.Resource)
	e.recordDenial(ctx, roleID, req, userID, reason)
	return Decision{Granted: false, Reason: reason}, nil
}

// effectivePermissions unions the role's own permissions with every
// inherited role's, walking the DAG with a visited set. Creation rejects
// cycles, but the visited set keeps the walk safe against legacy data.
func (e *Engine) effectivePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	var (
		out     []Permission
		visited = make(map[string]bool)
		walk    func(id string) error
	)
	walk = func(id string) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		role, err := e.roles.Get(ctx, id)
		if err != nil {
			return err
		}
		out = append(out, role.Permissions...)
		for _, parent := range role.InheritFrom {
			if err := walk(parent); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(roleID); err != nil {
		return nil, err
	}
	return out, nil
}

// matchResource matches exact, "*", or segment-wise glob where pattern
// segments split on ':' and "*" matches any remaining segments
// ("brain:*" matches "brain:memories").
func matchResource(pattern, resource string) bool {
	if pattern == "*" || pattern == resource {
		return true
	}
	pSegs := strings.Split(pattern, ":")
	rSegs := strings.Split(resource, ":")
	for i, seg := range pSegs {
		if seg == "*" {
			return true
		}
		if i >= len(rSegs) || seg != rSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(rSegs)
}

func matchAction(pattern, action string) bool {
	return pattern == "*" || pattern == action
}

// evalPredicate compiles (or reuses) the expression and evaluates it
// against the request context.
func (e *Engine) evalPredicate(expr string, reqCtx map[string]any) (bool, error) {
	e.cacheMu.RLock()
	prg, hit := e.cache[expr]
	e.cacheMu.RUnlock()

	if !hit {
		e.cacheMu.Lock()
		if prg, hit = e.cache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.cacheMu.Unlock()
				return false, fmt.Errorf("rbac: compile predicate: %w", issues.Err())
			}
			var err error
			prg, err = e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.cacheMu.Unlock()
				return false, fmt.Errorf("rbac: build predicate program: %w", err)
			}
			e.cache[expr] = prg
		}
		e.cacheMu.Unlock()
	}

	if reqCtx == nil {
		reqCtx = map[string]any{}
	}
	val, _, err := prg.Eval(map[string]any{"context": reqCtx})
	if err != nil {
		return false, fmt.Errorf("rbac: evaluate predicate: %w", err)
	}
	granted, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rbac: predicate %q is not boolean", expr)
	}
	return granted, nil
}

func (e *Engine) recordDenial(ctx context.Context, roleID string, req Request, userID, reason string) {
	if e.auditor == nil {
		return
	}
	_, err := e.auditor.Record(ctx, audit.Event{
		Event:   "permission_denied",
		Level:   audit.LevelWarn,
		Message: reason,
		UserID:  userID,
		Metadata: map[string]any{
			"role":     roleID,
			"resource": req.Resource,
			"action":   req.Action,
		},
	})
	if err != nil {
		e.logger.Error("audit record failed", "event", "permission_denied", "error", err)
	}
}
