package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// tree is the JSON view of a Config that the dot-path accessors walk.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func splitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}
	return strings.Split(path, "."), nil
}

// GetByPath retrieves a config value by dot-notation path, e.g.
// "dms.channelId" or "server.allowedOrigins.0".
func GetByPath(cfg *Config, path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var current any = t
	for _, key := range parts {
		switch v := current.(type) {
		case tree:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("%s is not an object at %q", path, key)
		}
	}
	return current, nil
}

// SetByPath sets one leaf. Every key must already exist except the entries
// of identity.aliases, which may be added.
func SetByPath(cfg *Config, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	t, err := toTree(cfg)
	if err != nil {
		return err
	}

	parent := t
	for i, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok && isAliasPath(parts[:i+1]) {
			child = tree{}
			parent[key] = child
		}
		next, ok := child.(tree)
		if !ok {
			return fmt.Errorf("key not found: %s", strings.Join(parts[:i+1], "."))
		}
		parent = next
	}

	leaf := parts[len(parts)-1]
	current, ok := parent[leaf]
	if !ok && !isAliasPath(parts[:len(parts)-1]) {
		return fmt.Errorf("key not found: %s", path)
	}
	coerced, err := coerce(current, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	parent[leaf] = coerced

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = next
	return nil
}

func isAliasPath(parts []string) bool {
	return len(parts) == 2 && parts[0] == "identity" && parts[1] == "aliases"
}

// coerce converts a CLI string to the JSON type of the current leaf.
// Non-string values and new keys pass through unchanged.
func coerce(current, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", s)
		}
		return b, nil
	case float64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return f, nil
	case []any:
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}
	return s, nil
}

// Sanitize returns a copy with the signing secret and any NATS password
// masked. cfg is not modified.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Server.AllowedOrigins = append([]string(nil), cfg.Server.AllowedOrigins...)
	if cfg.Identity.Aliases != nil {
		out.Identity.Aliases = make(map[string]string, len(cfg.Identity.Aliases))
		for k, v := range cfg.Identity.Aliases {
			out.Identity.Aliases[k] = v
		}
	}

	if out.DMS.JWTSecret != "" {
		out.DMS.JWTSecret = maskString(out.DMS.JWTSecret)
	}
	if u, err := url.Parse(out.Fanout.URL); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
			out.Fanout.URL = u.String()
		}
	}
	return &out
}

// maskString keeps the first and last four characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	leaves := make(map[string]any)
	flatten("", t, leaves)
	return leaves
}

func flatten(prefix string, t tree, leaves map[string]any) {
	for k, v := range t {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(tree); ok {
			flatten(path, sub, leaves)
			continue
		}
		leaves[path] = v
	}
}
