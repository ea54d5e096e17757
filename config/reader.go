package config

import (
	"bytes"
	"io"
	"path"
	"reflect"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Read reads a config file, expanding environment variables first. Settings missing from the
// file keep their defaults.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", filePath)
	}
	cfg, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", filePath)
	}
	return cfg, nil
}

// FromReader decodes a YAML config on top of the defaults. The result is not validated.
func FromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	var raw map[string]interface{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to parse yaml")
	}
	if err := decode(raw, cfg); err != nil {
		return nil, err
	}
	cfg.Exploration.Planner = cfg.Planner
	return cfg, nil
}

// ApplyOverrides sets values given as dotted.path=value pairs, such as slam.num_particles=500.
// Values are parsed as YAML, so lists and durations are written the same way as in the file.
func (cfg *Config) ApplyOverrides(overrides []string) error {
	if len(overrides) == 0 {
		return nil
	}
	raw := map[string]interface{}{}
	for _, override := range overrides {
		key, value, ok := strings.Cut(override, "=")
		if !ok || key == "" {
			return errors.Errorf("override %q must look like key=value", override)
		}
		var parsed interface{}
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return errors.Wrapf(err, "invalid value in override %q", override)
		}
		setPath(raw, strings.Split(key, "."), parsed)
	}
	if err := decode(raw, cfg); err != nil {
		return err
	}
	cfg.Exploration.Planner = cfg.Planner
	return nil
}

func setPath(m map[string]interface{}, path []string, value interface{}) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

func decode(raw map[string]interface{}, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		// Lists replace the defaults instead of being merged into them.
		ZeroFields: true,
		Result:     cfg,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create config decoder")
	}
	return errors.Wrap(decoder.Decode(raw), "failed to decode config")
}

// Marshal renders cfg as YAML.
func (cfg *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Schema returns the JSON schema of the configuration file. Definitions are keyed by package and
// type, e.g. "slam.Config", since every section type is called Config.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{Namer: qualifiedTypeName}
	return r.Reflect(&Config{})
}

func qualifiedTypeName(t reflect.Type) string {
	if t.Name() == "" || t.PkgPath() == "" {
		return ""
	}
	return path.Base(t.PkgPath()) + "." + t.Name()
}
