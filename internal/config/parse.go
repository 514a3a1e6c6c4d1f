package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is the syntax of a configuration source.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatLua  Format = "lua"
)

// FormatFromPath picks the format from a file extension, TOML otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".lua":
		return FormatLua
	default:
		return FormatTOML
	}
}

// ParseFile reads and parses a configuration file. A missing file is a
// ConfigError.
func ParseFile(ctx context.Context, path string, host *HostInfo) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigError{Source: path, Message: "file does not exist"}
		}
		return nil, &ConfigError{Source: path, Message: "cannot read file", Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigSize+1))
	if err != nil {
		return nil, &ConfigError{Source: path, Message: "cannot read file", Err: err}
	}
	if len(data) > MaxConfigSize {
		return nil, &ConfigError{Source: path, Message: fmt.Sprintf("file larger than %d bytes", MaxConfigSize)}
	}

	return ParseBytes(ctx, data, FormatFromPath(path), path, host)
}

// ParseBytes parses one configuration source. source names it in errors.
func ParseBytes(ctx context.Context, data []byte, format Format, source string, host *HostInfo) (map[string]any, error) {
	if len(data) > MaxConfigSize {
		return nil, &ConfigError{Source: source, Message: fmt.Sprintf("payload larger than %d bytes", MaxConfigSize)}
	}

	var (
		out map[string]any
		err error
	)
	switch format {
	case FormatTOML:
		out = map[string]any{}
		err = toml.Unmarshal(data, &out)
	case FormatYAML:
		out, err = parseYAML(data)
	case FormatLua:
		out, err = parseLua(ctx, data, host)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, &ConfigError{Source: source, Message: fmt.Sprintf("cannot parse %s", format), Err: err}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func parseYAML(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
