package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Entry is one leaf of the config tree addressed by its dotted path.
type Entry struct {
	Path  string
	Value any
}

// tree renders cfg as generic JSON values keyed by their json tags.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return m, nil
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(strings.TrimSpace(path), ".")
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	return strings.Split(path, "."), nil
}

// GetByPath returns the value at a dotted path such as "agent.model" or
// "channels.telegram.allowFrom.0".
func GetByPath(cfg *Config, path string) (any, error) {
	keys, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	root, err := tree(cfg)
	if err != nil {
		return nil, err
	}

	var node any = root
	for i, key := range keys {
		switch n := node.(type) {
		case map[string]any:
			next, ok := n[key]
			if !ok {
				return nil, fmt.Errorf("unknown config key %q", strings.Join(keys[:i+1], "."))
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, fmt.Errorf("index %q out of range at %s", key, strings.Join(keys[:i], "."))
			}
			node = n[idx]
		default:
			return nil, fmt.Errorf("%s is a leaf value", strings.Join(keys[:i], "."))
		}
	}
	return node, nil
}

// SetByPath assigns raw to the leaf at path. The text is converted to the
// type of the value it replaces: "true"/"false" for booleans, numbers for
// numeric fields, comma separated items for lists. Missing intermediate keys
// are created so new provider entries can be added.
func SetByPath(cfg *Config, path, raw string) error {
	keys, err := splitPath(path)
	if err != nil {
		return err
	}
	root, err := tree(cfg)
	if err != nil {
		return err
	}

	parent := root
	for i, key := range keys[:len(keys)-1] {
		next, ok := parent[key]
		if !ok || next == nil {
			child := map[string]any{}
			parent[key] = child
			parent = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is a leaf value", strings.Join(keys[:i+1], "."))
		}
		parent = child
	}

	leaf := keys[len(keys)-1]
	var lastErr error
	for _, v := range candidates(raw, parent[leaf]) {
		parent[leaf] = v
		updated, err := fromTree(root)
		if err != nil {
			lastErr = err
			continue
		}
		*cfg = *updated
		return nil
	}
	return fmt.Errorf("set %s: %w", path, lastErr)
}

func fromTree(root map[string]any) (*Config, error) {
	data, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// candidates lists the interpretations of raw to try, most specific first.
func candidates(raw string, current any) []any {
	switch current.(type) {
	case bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return []any{b}
		}
	case float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return []any{f}
		}
	case []any:
		return []any{splitItems(raw)}
	case string:
		return []any{raw}
	}
	// Unknown or null target: guess, then fall back to a list and a string.
	var out []any
	if b, err := strconv.ParseBool(raw); err == nil {
		out = append(out, b)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		out = append(out, f)
	}
	return append(out, raw, splitItems(raw))
}

func splitItems(raw string) []any {
	items := []any{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}

// Sanitize returns a copy of cfg with API keys and tokens masked.
func Sanitize(cfg *Config) *Config {
	root, err := tree(cfg)
	if err != nil {
		return cfg
	}
	out, err := fromTree(root)
	if err != nil {
		return cfg
	}
	for name, p := range out.Providers {
		p.APIKey = maskSecret(p.APIKey)
		out.Providers[name] = p
	}
	out.Channels.Telegram.Token = maskSecret(out.Channels.Telegram.Token)
	return out
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}

// ListPaths returns every leaf of cfg sorted by path.
func ListPaths(cfg *Config) []Entry {
	root, err := tree(cfg)
	if err != nil {
		return nil
	}
	var entries []Entry
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			p := prefix + k
			if child, ok := v.(map[string]any); ok && len(child) > 0 {
				walk(p+".", child)
				continue
			}
			entries = append(entries, Entry{Path: p, Value: v})
		}
	}
	walk("", root)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}
