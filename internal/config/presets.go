package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is a named search profile: which sources to hit, per-source
// tailored query templates and which chain synthesizes the report. Presets
// live as yaml files in <home>/presets.
type Preset struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Sources     []string          `yaml:"sources"`
	Tailor      map[string]string `yaml:"tailor"`
	Chain       string            `yaml:"chain"`
}

// PresetsDir returns the preset directory under the scour home.
func PresetsDir() string {
	return filepath.Join(Dir(), "presets")
}

// LoadPreset reads one preset by name from the presets dir.
func LoadPreset(name string) (*Preset, error) {
	path := filepath.Join(PresetsDir(), name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset %q: %w", name, err)
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse preset %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return &p, nil
}

// ListPresets returns every preset in the presets dir, sorted by name. A
// missing dir means no presets.
func ListPresets() ([]*Preset, error) {
	entries, err := os.ReadDir(PresetsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read presets dir: %w", err)
	}

	var presets []*Preset
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		p, err := LoadPreset(strings.TrimSuffix(e.Name(), ".yaml"))
		if err != nil {
			continue // a broken preset file should not hide the rest
		}
		presets = append(presets, p)
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets, nil
}

// TailorFor expands the preset's tailored query templates for a base
// query. The {query} placeholder is substituted; a template without the
// placeholder is used verbatim.
func (p *Preset) TailorFor(base string) map[string]string {
	if len(p.Tailor) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.Tailor))
	for source, tmpl := range p.Tailor {
		out[source] = strings.ReplaceAll(tmpl, "{query}", base)
	}
	return out
}
