package locator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// yamlFile is the YAML structure for a locator strategy file.
type yamlFile struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Targets     []yamlStrategy `yaml:"targets"`
}

type yamlStrategy struct {
	Target      string      `yaml:"target"`
	Description string      `yaml:"description"`
	Candidates  []yamlQuery `yaml:"candidates"`
}

type yamlQuery struct {
	CSS          string            `yaml:"css"`
	HasText      string            `yaml:"hasText,omitempty"`
	ExactText    string            `yaml:"exactText,omitempty"`
	Has          *yamlChild        `yaml:"has,omitempty"`
	HasNot       *yamlChild        `yaml:"hasNot,omitempty"`
	AttrContains map[string]string `yaml:"attrContains,omitempty"`
	VisibleOnly  bool              `yaml:"visibleOnly,omitempty"`
	Pick         string            `yaml:"pick,omitempty"`
}

type yamlChild struct {
	CSS  string `yaml:"css"`
	Text string `yaml:"text,omitempty"`
}

// Loader reads strategy files into a registry.
type Loader struct {
	registry *Registry
}

// NewLoader creates a loader that populates the given registry.
func NewLoader(registry *Registry) *Loader {
	return &Loader{registry: registry}
}

// LoadFromFS loads every YAML file in the "locators" directory of fsys.
// Files are applied in directory order; a later file replaces earlier strategies
// for the same target.
func (l *Loader) LoadFromFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, "locators")
	if err != nil {
		return fmt.Errorf("failed to read locators directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, "locators/"+entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read locator file %s: %w", entry.Name(), err)
		}
		if err := l.load(entry.Name(), data); err != nil {
			return err
		}
	}

	return nil
}

// LoadFile loads a single strategy file from disk, overriding targets it defines.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read locator file %s: %w", path, err)
	}
	return l.load(path, data)
}

func (l *Loader) load(name string, data []byte) error {
	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return fmt.Errorf("failed to parse locator file %s: %w", name, err)
	}

	for i := range yf.Targets {
		s := convertYAMLStrategy(&yf.Targets[i])
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid locator file %s: %w", name, err)
		}
		l.registry.Register(s)
	}
	return nil
}

func convertYAMLStrategy(ys *yamlStrategy) *Strategy {
	s := &Strategy{
		Target:      Target(ys.Target),
		Description: ys.Description,
		Candidates:  make([]Query, len(ys.Candidates)),
	}
	for i, yq := range ys.Candidates {
		s.Candidates[i] = Query{
			Target:       s.Target,
			CSS:          yq.CSS,
			HasText:      yq.HasText,
			ExactText:    yq.ExactText,
			Has:          convertYAMLChild(yq.Has),
			HasNot:       convertYAMLChild(yq.HasNot),
			AttrContains: yq.AttrContains,
			VisibleOnly:  yq.VisibleOnly,
			Pick:         Pick(yq.Pick),
		}
	}
	return s
}

func convertYAMLChild(yc *yamlChild) *Child {
	if yc == nil {
		return nil
	}
	return &Child{CSS: yc.CSS, Text: yc.Text}
}
