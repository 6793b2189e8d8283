package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# oncrpc Configuration File
#
# Every value can be overridden with an environment variable named after its
# path, e.g. ONCRPC_LOGGING_LEVEL=DEBUG or ONCRPC_PORTMAP_STORE_TYPE=badger.
`

// sectionComments document the generated file, keyed by YAML path.
var sectionComments = map[string]string{
	"logging":                       "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr or a file path)",
	"metrics":                       "Prometheus endpoint served at http://host:port/metrics",
	"server":                        "RPC program servers (rpcecho)",
	"server.register":               "Register with the port mapper at portmap_addr while serving",
	"server.max_record_size":        "Largest call accepted, in bytes",
	"server.rate_limit":             "Per-caller throttling; 0 requests_per_second disables it",
	"portmap":                       "Port mapper daemon (portmapd)",
	"portmap.protocols":             "Transports served on port",
	"portmap.callit_timeout":        "How long a relayed CALLIT may take",
	"portmap.store":                 "Registry store: memory (lost on restart) or badger (persistent)",
	"portmap.store.badger":          "Only used when type is badger",
	"portmap.loopback_only_updates": "Refuse SET and UNSET from non-local callers",
}

// InitConfig writes the default configuration to the default location and
// returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as commented YAML. Durations are
// written in their text form ("30s") so the file reads back through viper.
func generateYAMLWithComments(cfg *Config) (string, error) {
	node, err := encodeNode(reflect.ValueOf(*cfg), "")
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.String(), nil
}

func encodeNode(v reflect.Value, path string) (*yaml.Node, error) {
	if v.Type() == durationType {
		return &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: time.Duration(v.Int()).String(),
		}, nil
	}

	if v.Kind() != reflect.Struct {
		var n yaml.Node
		if err := n.Encode(v.Interface()); err != nil {
			return nil, err
		}
		return &n, nil
	}

	mapping := &yaml.Node{Kind: yaml.MappingNode}
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "" || name == "-" || !field.IsExported() {
			continue
		}
		key := name
		if path != "" {
			key = path + "." + name
		}

		value, err := encodeNode(v.Field(i), key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: name, HeadComment: sectionComments[key]},
			value)
	}
	return mapping, nil
}
