package rbac

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Names of the roles seeded into every tenant.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// RoleTemplate is a default role definition with its permissions already expanded.
type RoleTemplate struct {
	Name        string
	Description string
	Permissions []Key
}

// Catalog is the immutable set of permissions the platform understands.
type Catalog struct {
	entries  map[Key]Permission
	ordered  []Permission
	defaults []RoleTemplate
}

type catalogFile struct {
	Permissions  map[string]map[string]string `yaml:"permissions"`
	DefaultRoles []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"default_roles"`
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the catalog embedded in the binary. A malformed
// definition is a build defect and panics on first use.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := LoadCatalog(catalogYAML)
		if err != nil {
			panic(fmt.Sprintf("rbac: embedded catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// LoadCatalog parses a catalog definition. Default role templates must only
// reference catalog entries and must include the four standard roles.
func LoadCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rbac: parse catalog: %w", err)
	}
	if len(file.Permissions) == 0 {
		return nil, errors.New("rbac: catalog defines no permissions")
	}

	c := &Catalog{entries: make(map[Key]Permission)}
	for area, actions := range file.Permissions {
		for action, description := range actions {
			key := NewKey(area, action)
			if key.FeatureArea == "" || key.Action == "" || strings.ContainsAny(key.FeatureArea+key.Action, ":* ") {
				return nil, fmt.Errorf("rbac: invalid catalog entry %q:%q", area, action)
			}
			if _, dup := c.entries[key]; dup {
				return nil, fmt.Errorf("rbac: duplicate catalog entry %s", key)
			}
			p := Permission{FeatureArea: key.FeatureArea, Action: key.Action, Description: strings.TrimSpace(description)}
			c.entries[key] = p
		}
	}
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sortKeys(keys)
	c.ordered = make([]Permission, len(keys))
	for i, k := range keys {
		c.ordered[i] = c.entries[k]
	}

	seen := map[string]bool{}
	for _, def := range file.DefaultRoles {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, errors.New("rbac: default role without name")
		}
		if seen[strings.ToLower(name)] {
			return nil, fmt.Errorf("rbac: duplicate default role %q", name)
		}
		seen[strings.ToLower(name)] = true
		perms, err := c.expand(def.Permissions)
		if err != nil {
			return nil, fmt.Errorf("rbac: default role %q: %w", name, err)
		}
		c.defaults = append(c.defaults, RoleTemplate{
			Name:        name,
			Description: strings.TrimSpace(def.Description),
			Permissions: perms,
		})
	}
	for _, required := range []string{RoleOwner, RoleAdmin, RoleMember, RoleViewer} {
		if !seen[required] {
			return nil, fmt.Errorf("rbac: default role %q missing", required)
		}
	}
	return c, nil
}

func (c *Catalog) expand(patterns []string) ([]Key, error) {
	var keys []Key
	for _, raw := range patterns {
		pattern := normalizeName(raw)
		switch {
		case pattern == "*":
			for _, p := range c.ordered {
				keys = append(keys, p.Key())
			}
		case strings.HasSuffix(pattern, ":*"):
			area := strings.TrimSuffix(pattern, ":*")
			matched := false
			for _, p := range c.ordered {
				if p.FeatureArea == area {
					keys = append(keys, p.Key())
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("%w: unknown feature area %q", ErrUnknownPermission, area)
			}
		default:
			key, err := ParseKey(pattern)
			if err != nil {
				return nil, err
			}
			if !c.HasKey(key) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, key)
			}
			keys = append(keys, key)
		}
	}
	return dedupeKeys(keys), nil
}

// Has reports whether (area, action) is a known permission.
func (c *Catalog) Has(area, action string) bool {
	return c.HasKey(NewKey(area, action))
}

// HasKey reports whether key is a known permission.
func (c *Catalog) HasKey(key Key) bool {
	if c == nil {
		return false
	}
	_, ok := c.entries[key]
	return ok
}

// Lookup returns the catalog entry for key.
func (c *Catalog) Lookup(key Key) (Permission, bool) {
	if c == nil {
		return Permission{}, false
	}
	p, ok := c.entries[key]
	return p, ok
}

// All returns every permission ordered by area then action.
func (c *Catalog) All() []Permission {
	if c == nil {
		return nil
	}
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Validate fails with ErrUnknownPermission naming the first key outside the catalog.
func (c *Catalog) Validate(keys []Key) error {
	for _, k := range keys {
		if !c.HasKey(NewKey(k.FeatureArea, k.Action)) {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, k)
		}
	}
	return nil
}

// DefaultRoles returns the templates seeded into every new tenant.
func (c *Catalog) DefaultRoles() []RoleTemplate {
	if c == nil {
		return nil
	}
	out := make([]RoleTemplate, len(c.defaults))
	for i, t := range c.defaults {
		t.Permissions = append([]Key(nil), t.Permissions...)
		out[i] = t
	}
	return out
}
