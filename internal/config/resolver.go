package config

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/machichima/obstore/pkg/obserrors"
)

// Canonical is a resolved, immutable view of one family's configuration.
// All keys are canonical spellings; values are the raw strings supplied by
// the caller or environment.
type Canonical struct {
	family Family
	values map[string]string
}

// Resolve merges the three configuration sources against a family table.
//
// The explicit map and the overrides map carry equal precedence: a canonical
// key supplied by both with differing values is a ConfigConflict, identical
// values collapse to one. The env snapshot is consulted last, only for
// canonical keys not already present. Any name in explicit or overrides that
// does not resolve against the table is an UnknownConfigKey.
func Resolve(t *Table, explicit, overrides map[string]string, env map[string]string) (*Canonical, error) {
	merged := make(map[string]string, len(explicit)+len(overrides))

	// Track which source supplied each key so conflict messages can name
	// both spellings the caller used.
	origin := make(map[string]string, len(explicit))

	absorb := func(src map[string]string, label string) error {
		for name, value := range src {
			canonical, ok := t.Lookup(name)
			if !ok {
				return obserrors.New(obserrors.UnknownConfigKey, string(t.family), "",
					"unknown %s configuration key %q", t.family, name)
			}
			if prev, dup := merged[canonical]; dup {
				if prev != value {
					return obserrors.New(obserrors.ConfigConflict, string(t.family), "",
						"duplicate value for %q: %q (%s) vs %q (%s)",
						canonical, prev, origin[canonical], value, label)
				}
				continue
			}
			merged[canonical] = value
			origin[canonical] = label
		}
		return nil
	}

	if err := absorb(explicit, "config"); err != nil {
		return nil, err
	}
	if err := absorb(overrides, "override"); err != nil {
		return nil, err
	}

	for _, canonical := range t.keys {
		if _, ok := merged[canonical]; ok {
			continue
		}
		envName := t.envFor[canonical]
		if envName == "" {
			continue
		}
		if value, ok := env[envName]; ok {
			merged[canonical] = value
		}
	}

	return &Canonical{family: t.family, values: merged}, nil
}

// Family returns the family this configuration was resolved for.
func (c *Canonical) Family() Family { return c.family }

// Keys returns the canonical keys present, sorted.
func (c *Canonical) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether a canonical key is present.
func (c *Canonical) Has(canonical string) bool {
	_, ok := c.values[canonical]
	return ok
}

// Get returns the raw string value for a canonical key.
func (c *Canonical) Get(canonical string) (string, bool) {
	v, ok := c.values[canonical]
	return v, ok
}

// GetString returns the value or a default when unset.
func (c *Canonical) GetString(canonical, def string) string {
	if v, ok := c.values[canonical]; ok {
		return v
	}
	return def
}

// GetBool parses a boolean value. Accepted truthy spellings are "true",
// "1", "yes", "on"; falsy are "false", "0", "no", "off"; all
// case-insensitive. Unset returns the default; an unparseable value errors.
func (c *Canonical) GetBool(canonical string, def bool) (bool, error) {
	v, ok := c.values[canonical]
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, obserrors.New(obserrors.Generic, string(c.family), "",
		"invalid boolean for %q: %q", canonical, v)
}

// GetDuration parses a duration value: a Go duration string ("30s",
// "1m30s") or a bare number of seconds ("30", "2.5").
func (c *Canonical) GetDuration(canonical string, def time.Duration) (time.Duration, error) {
	v, ok := c.values[canonical]
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, obserrors.New(obserrors.Generic, string(c.family), "",
		"invalid duration for %q: %q", canonical, v)
}

// GetInt parses an integer value.
func (c *Canonical) GetInt(canonical string, def int64) (int64, error) {
	v, ok := c.values[canonical]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, obserrors.New(obserrors.Generic, string(c.family), "",
			"invalid integer for %q: %q", canonical, v)
	}
	return n, nil
}

// EnvSnapshot converts an os.Environ style slice into the map form Resolve
// consumes. Later entries win, matching process-environment semantics.
func EnvSnapshot(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
