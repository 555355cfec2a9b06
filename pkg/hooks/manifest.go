package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

// manifestSchema constrains extension manifests before anything is
// persisted or registered.
const manifestSchema = `{
	"type": "object",
	"required": ["name", "version"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "pattern": "^[a-z0-9][a-z0-9-]*$"},
		"version": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"hooks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["point"],
				"properties": {
					"point": {"type": "string", "minLength": 1},
					"priority": {"type": "integer"},
					"semantics": {"enum": ["observe", "transform", "veto"]}
				}
			}
		}
	}
}`

// Manifest is the declarative shape of an extension's *.yaml file.
type Manifest struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Hooks       []struct {
		Point     string `yaml:"point" json:"point"`
		Priority  int    `yaml:"priority,omitempty" json:"priority,omitempty"`
		Semantics string `yaml:"semantics,omitempty" json:"semantics,omitempty"`
	} `yaml:"hooks,omitempty" json:"hooks,omitempty"`
}

// Discovery scans the extensions directory for manifests and registers
// their hooks as placeholders until code claims them.
type Discovery struct {
	store  *Store
	engine *Engine
	dir    string
	schema *jsonschema.Schema
	logger *slog.Logger
	now    func() time.Time
}

func NewDiscovery(store *Store, engine *Engine, dir string) (*Discovery, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.json", bytes.NewReader([]byte(manifestSchema))); err != nil {
		return nil, fmt.Errorf("hooks: schema resource: %w", err)
	}
	schema, err := compiler.Compile("manifest.json")
	if err != nil {
		return nil, fmt.Errorf("hooks: schema compile: %w", err)
	}
	return &Discovery{
		store:  store,
		engine: engine,
		dir:    dir,
		schema: schema,
		logger: slog.Default().With("component", "hooks"),
		now:    time.Now,
	}, nil
}

// Discover scans for *.yaml manifests, validates each, and registers the
// declared hooks. Invalid manifests are skipped with a warning rather
// than failing the whole scan.
func (d *Discovery) Discover(ctx context.Context) ([]*Extension, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matched, err := filepath.Glob(filepath.Join(d.dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("hooks: glob: %w", err)
		}
		paths = append(paths, matched...)
	}

	var out []*Extension
	for _, path := range paths {
		ext, err := d.loadManifest(ctx, path)
		if err != nil {
			d.logger.Warn("manifest rejected", "path", path, "error", err)
			continue
		}
		out = append(out, ext)
	}
	return out, nil
}

// LoadPersisted re-materializes every persisted hook slot as a
// placeholder handler. Call once on startup, before code registrations.
func (d *Discovery) LoadPersisted(ctx context.Context) error {
	hooks, err := d.store.ListHooks(ctx)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		if !h.Point.Valid() {
			d.logger.Warn("persisted hook has unknown point", "point", h.Point, "extension", h.ExtensionID)
			continue
		}
		d.engine.RegisterPlaceholder(h.Point, h.Priority, h.Semantics, h.ExtensionID)
	}
	return nil
}

func (d *Discovery) loadManifest(ctx context.Context, path string) (*Extension, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	// YAML decodes to generic values, round-trips through JSON, and only
	// then hits the schema so validation semantics match the schema spec.
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "hooks: manifest yaml", err)
	}
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "hooks: manifest convert", err)
	}
	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "hooks: manifest reparse", err)
	}
	if err := d.schema.Validate(doc); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "hooks: manifest schema", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(jsonBytes, &manifest); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "hooks: manifest decode", err)
	}
	if _, err := semver.NewVersion(manifest.Version); err != nil {
		return nil, fault.Errorf(fault.KindInvalidInput, "hooks: manifest version %q: %v", manifest.Version, err)
	}
	for _, h := range manifest.Hooks {
		if !Point(h.Point).Valid() {
			return nil, fault.Errorf(fault.KindInvalidInput, "hooks: manifest hook point %q unknown", h.Point)
		}
	}

	now := d.now().UnixMilli()
	ext := &Extension{
		Name:        manifest.Name,
		Version:     manifest.Version,
		Description: manifest.Description,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := d.store.GetExtensionByName(ctx, manifest.Name); err == nil {
		ext.ID = existing.ID
		ext.CreatedAt = existing.CreatedAt
	} else {
		ext.ID = ids.New()
	}
	if err := d.store.UpsertExtension(ctx, ext); err != nil {
		return nil, err
	}

	persisted := make([]PersistedHook, 0, len(manifest.Hooks))
	d.engine.RemoveExtension(ext.ID)
	for _, h := range manifest.Hooks {
		sem := Semantics(h.Semantics)
		if sem == "" {
			sem = SemanticsObserve
		}
		persisted = append(persisted, PersistedHook{
			ID:          ids.New(),
			ExtensionID: ext.ID,
			Point:       Point(h.Point),
			Priority:    h.Priority,
			Semantics:   sem,
		})
		d.engine.RegisterPlaceholder(Point(h.Point), h.Priority, sem, ext.ID)
	}
	if err := d.store.ReplaceHooks(ctx, ext.ID, persisted); err != nil {
		return nil, err
	}
	return ext, nil
}
