package courseconfig

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Meta is the optional per-course build metadata file.
type Meta struct {
	BuildImage      string   `yaml:"build_image,omitempty"`
	BuildCommand    string   `yaml:"build_command,omitempty"`
	ExcludePatterns Patterns `yaml:"exclude_patterns,omitempty"`
}

// Patterns accepts either a YAML list or a single shell-quoted string
// ("_build '*.pyc'").
type Patterns []string

func (p *Patterns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		words, err := shlex.Split(node.Value)
		if err != nil {
			return err
		}
		*p = words
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*p = list
	return nil
}

// LoadMeta reads meta.yaml from dir. It returns nil, nil when the file is absent.
func LoadMeta(dir string) (*Meta, error) {
	path := filepath.Join(dir, MetaFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	var m Meta
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &m, nil
}
