package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tchaudhry91/shellhist/internal/history"
)

func defaultConfigPath() string {
	dir, err := history.DefaultConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// parseYAMLConfig reads a flat YAML mapping of flag names to values. A list sets the flag
// once per element.
func parseYAMLConfig(r io.Reader, set func(name, value string) error) error {
	var values map[string]any
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := values[name]
		items, ok := raw.([]any)
		if !ok {
			items = []any{raw}
		}
		for _, item := range items {
			value, err := yamlScalar(item)
			if err != nil {
				return fmt.Errorf("config key %q: %w", name, err)
			}
			if err := set(name, value); err != nil {
				return fmt.Errorf("failed to set %q from config: %w", name, err)
			}
		}
	}
	return nil
}

func yamlScalar(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}

// setupLogging installs a text slog handler on w at the named level.
func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}
