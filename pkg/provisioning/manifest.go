package provisioning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"gopkg.in/yaml.v3"
)

// Manifest declares a provisioning step in YAML:
//
//	id: 2025_03_01_000000_reports
//	description: Report permissions
//	guards: [web, api]
//	permissions: [reports.index, reports.show]
//	roles:
//	  super-admin: [reports.index, reports.show]
//	remove: [legacy.export]
//
// Up removes the permissions listed under remove, adds permissions, then
// assigns each role its list. Down unassigns the roles, removes
// permissions and re-adds the removed names without their former
// assignments.
type Manifest struct {
	ID          string              `yaml:"id"`
	Description string              `yaml:"description"`
	Guards      []string            `yaml:"guards"`
	Permissions []string            `yaml:"permissions"`
	Roles       map[string][]string `yaml:"roles"`
	Remove      []string            `yaml:"remove"`
}

// ValidationError describes one invalid manifest field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// LoadManifest loads and parses a manifest file. Unknown fields are rejected.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer f.Close()

	var manifest Manifest
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &manifest, nil
}

// LoadManifestsFromDir loads every *.yaml and *.yml manifest of dir,
// validates them and compiles them into steps
func LoadManifestsFromDir(dir string) ([]Step, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	steps := make([]Step, 0, len(paths))
	for _, path := range paths {
		manifest, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		if errs := ValidateManifest(manifest); len(errs) > 0 {
			return nil, fmt.Errorf("%w: %s: %s", ErrInvalidStep, path, errs[0].Error())
		}
		steps = append(steps, manifest.Step())
	}
	return steps, nil
}

// ValidateManifest checks required fields and every name in the manifest
func ValidateManifest(manifest *Manifest) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(manifest.ID) == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "id is required"})
	}
	if len(manifest.Guards) == 0 {
		errs = append(errs, ValidationError{Field: "guards", Message: "at least one guard is required"})
	}
	for _, g := range manifest.Guards {
		if err := rbac.Guard(g).Validate(); err != nil {
			errs = append(errs, ValidationError{Field: "guards", Message: err.Error()})
		}
	}
	if len(manifest.Permissions) == 0 && len(manifest.Roles) == 0 && len(manifest.Remove) == 0 {
		errs = append(errs, ValidationError{Field: "permissions", Message: "manifest changes nothing"})
	}

	for _, name := range manifest.Permissions {
		if err := rbac.ValidatePermissionName(name); err != nil {
			errs = append(errs, ValidationError{Field: "permissions", Message: err.Error()})
		}
	}
	for _, name := range manifest.Remove {
		if err := rbac.ValidatePermissionName(name); err != nil {
			errs = append(errs, ValidationError{Field: "remove", Message: err.Error()})
		}
	}
	for _, role := range manifest.roleNames() {
		if err := rbac.ValidateRoleName(role); err != nil {
			errs = append(errs, ValidationError{Field: "roles", Message: err.Error()})
		}
		for _, name := range manifest.Roles[role] {
			if err := rbac.ValidatePermissionName(name); err != nil {
				errs = append(errs, ValidationError{Field: "roles." + role, Message: err.Error()})
			}
		}
	}

	return errs
}

func (m *Manifest) roleNames() []string {
	roles := make([]string, 0, len(m.Roles))
	for role := range m.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Step compiles the manifest into a reversible step
func (m *Manifest) Step() Step {
	return Step{
		ID:          m.ID,
		Description: m.Description,
		Up: func(ctx context.Context, p *Procedure) error {
			for _, guard := range m.Guards {
				gp := p.Guard(rbac.Guard(guard))
				if err := gp.RemovePermissions(ctx, m.Remove...); err != nil {
					return err
				}
				// Down removes every listed permission, so the step may only
				// list permissions it creates.
				if err := gp.RequireAbsent(ctx, m.Permissions...); err != nil {
					return err
				}
				if err := gp.AddPermissions(ctx, m.Permissions...); err != nil {
					return err
				}
				for _, role := range m.roleNames() {
					if err := gp.Assign(ctx, role, m.Roles[role]...); err != nil {
						return err
					}
				}
			}
			return nil
		},
		Down: func(ctx context.Context, p *Procedure) error {
			for _, guard := range m.Guards {
				gp := p.Guard(rbac.Guard(guard))
				for _, role := range m.roleNames() {
					if err := gp.Unassign(ctx, role, m.Roles[role]...); err != nil {
						return err
					}
				}
				if err := gp.RemovePermissions(ctx, m.Permissions...); err != nil {
					return err
				}
				if err := gp.AddPermissions(ctx, m.Remove...); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
