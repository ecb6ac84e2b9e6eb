package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Key identifies a permission as a (feature area, action) pair.
type Key struct {
	FeatureArea string `json:"feature_area" yaml:"feature_area"`
	Action      string `json:"action" yaml:"action"`
}

// NewKey returns a normalized key.
func NewKey(area, action string) Key {
	return Key{FeatureArea: normalizeName(area), Action: normalizeName(action)}
}

// ParseKey parses the "area:action" form.
func ParseKey(raw string) (Key, error) {
	area, action, ok := strings.Cut(raw, ":")
	key := NewKey(area, action)
	if !ok || key.FeatureArea == "" || key.Action == "" {
		return Key{}, fmt.Errorf("%w: malformed permission %q", ErrUnknownPermission, raw)
	}
	return key, nil
}

// MustParseKey is ParseKey for compile-time constants.
func MustParseKey(raw string) Key {
	key, err := ParseKey(raw)
	if err != nil {
		panic(err)
	}
	return key
}

// String renders the key as "area:action".
func (k Key) String() string {
	return k.FeatureArea + ":" + k.Action
}

// Permission is a catalog entry.
type Permission struct {
	FeatureArea string `json:"feature_area"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// Key returns the permission's identity.
func (p Permission) Key() Key {
	return Key{FeatureArea: p.FeatureArea, Action: p.Action}
}

// PermissionSet is an unordered set of keys.
type PermissionSet map[Key]struct{}

// NewPermissionSet builds a set from keys.
func NewPermissionSet(keys ...Key) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Has reports membership of (area, action).
func (s PermissionSet) Has(area, action string) bool {
	_, ok := s[NewKey(area, action)]
	return ok
}

// HasKey reports membership of k.
func (s PermissionSet) HasKey(k Key) bool {
	_, ok := s[k]
	return ok
}

// Keys returns the members sorted by area then action.
func (s PermissionSet) Keys() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Strings returns the sorted "area:action" forms.
func (s PermissionSet) Strings() []string {
	return keyStrings(s.Keys())
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FeatureArea != keys[j].FeatureArea {
			return keys[i].FeatureArea < keys[j].FeatureArea
		}
		return keys[i].Action < keys[j].Action
	})
}

func keyStrings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// dedupeKeys normalizes, collapses duplicates and sorts.
func dedupeKeys(keys []Key) []Key {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		set[NewKey(k.FeatureArea, k.Action)] = struct{}{}
	}
	return set.Keys()
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
