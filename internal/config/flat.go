package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flatten returns the configuration as flat dotted keys such as
// "cache.ttl-seconds", the form operators and the admin API see.
func (c *Config) Flatten() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	out := make(map[string]any)
	flattenInto(out, "", tree)
	return out, nil
}

func flattenInto(out map[string]any, prefix string, node map[string]any) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(out, key, child)
			continue
		}
		out[key] = v
	}
}

// Keys returns the sorted list of recognized dotted keys.
func (c *Config) Keys() []string {
	flat, err := c.Flatten()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set applies a single dotted-key override, e.g. Set("cache.max-size", "500").
// Unknown keys and values of the wrong type are rejected and leave c untouched.
func (c *Config) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("config: empty key")
	}

	var scalar any
	if err := yaml.Unmarshal([]byte(value), &scalar); err != nil {
		return fmt.Errorf("config: parse value for %s: %w", key, err)
	}
	if _, isMap := scalar.(map[string]any); isMap {
		return fmt.Errorf("config: value for %s must be a scalar", key)
	}

	parts := strings.Split(key, ".")
	var nested any = scalar
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "" {
			return fmt.Errorf("config: malformed key %q", key)
		}
		nested = map[string]any{parts[i]: nested}
	}
	data, err := yaml.Marshal(nested)
	if err != nil {
		return fmt.Errorf("config: encode override %s: %w", key, err)
	}

	cp := *c
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cp); err != nil {
		return fmt.Errorf("config: set %s: %w", key, err)
	}
	*c = cp
	return nil
}

// ApplyOverrides applies "key=value" pairs in order.
func (c *Config) ApplyOverrides(pairs []string) error {
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("config: override %q is not key=value", p)
		}
		if err := c.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
