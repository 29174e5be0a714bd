// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
	"circlights/internal/zone"
)

// Preset is a named zone layout with its brightness.
type Preset struct {
	Name       string      `yaml:"name" json:"name"`
	Brightness int         `yaml:"brightness" json:"brightness"`
	Zones      []zone.Zone `yaml:"zones" json:"zones"`
}

// Validate checks the name, the brightness and every zone.
func (p *Preset) Validate() error {
	if err := ValidatePresetName(p.Name); err != nil {
		return err
	}
	if p.Brightness < 0 || p.Brightness > 255 {
		return apperrors.Newf(apperrors.KindConfigurationInvalid, "preset validate", "brightness %d out of range [0, 255]", p.Brightness)
	}
	seen := make(map[string]bool, len(p.Zones))
	for i := range p.Zones {
		p.Zones[i].Normalize()
		if err := p.Zones[i].Validate(); err != nil {
			return apperrors.Wrap(apperrors.KindConfigurationInvalid, "preset validate", fmt.Errorf("zones[%d]: %w", i, err))
		}
		if seen[p.Zones[i].Name] {
			return apperrors.Newf(apperrors.KindConfigurationInvalid, "preset validate", "duplicate zone name %q", p.Zones[i].Name)
		}
		seen[p.Zones[i].Name] = true
	}
	return nil
}

var presetName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]{0,63}$`)

// ValidatePresetName rejects names that are not safe as file names.
func ValidatePresetName(name string) error {
	if !presetName.MatchString(name) || strings.Contains(name, "..") {
		return apperrors.Newf(apperrors.KindConfigurationInvalid, "preset name", "invalid preset name %q", name)
	}
	return nil
}

const presetExt = ".yaml"

// FileStore persists the configuration and presets as YAML files. Every
// write goes through a temporary file and a rename so a crash leaves
// either the old or the new content.
type FileStore struct {
	configPath string
	presetDir  string
	mu         sync.Mutex
}

// NewFileStore stores the configuration at configPath and presets as
// <presetDir>/<name>.yaml.
func NewFileStore(configPath, presetDir string) *FileStore {
	return &FileStore{configPath: configPath, presetDir: presetDir}
}

// ConfigPath is where Save writes.
func (s *FileStore) ConfigPath() string { return s.configPath }

// Load reads the saved configuration over the defaults.
func (s *FileStore) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.KindNotFound, "config load", err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	cfg.Zones = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigurationInvalid, "config load", fmt.Errorf("failed to parse config file: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save validates cfg and replaces the configuration file.
func (s *FileStore) Save(cfg *Config) error {
	c := cfg.Clone()
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.configPath, data); err != nil {
		return err
	}
	applog.Debugf("Config: saved %s", s.configPath)
	return nil
}

// ListPresets returns preset names in lexical order.
func (s *FileStore) ListPresets() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.presetDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), presetExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), presetExt))
	}
	slices.Sort(names)
	return names, nil
}

// LoadPreset reads preset name.
func (s *FileStore) LoadPreset(name string) (Preset, error) {
	if err := ValidatePresetName(name); err != nil {
		return Preset{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.presetPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Preset{}, apperrors.Newf(apperrors.KindNotFound, "load preset", "preset %q not found", name)
		}
		return Preset{}, fmt.Errorf("failed to read preset %q: %w", name, err)
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Preset{}, apperrors.Wrap(apperrors.KindConfigurationInvalid, "load preset", fmt.Errorf("failed to parse preset %q: %w", name, err))
	}
	p.Name = name
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}
	return p, nil
}

// SavePreset validates p and writes it, replacing a preset of the same
// name.
func (s *FileStore) SavePreset(p Preset) error {
	p.Zones = CloneZones(p.Zones)
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preset: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.presetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create preset directory: %w", err)
	}
	if err := writeFileAtomic(s.presetPath(p.Name), data); err != nil {
		return err
	}
	applog.Infof("Config: saved preset %q", p.Name)
	return nil
}

// DeletePreset removes preset name.
func (s *FileStore) DeletePreset(name string) error {
	if err := ValidatePresetName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.presetPath(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.Newf(apperrors.KindNotFound, "delete preset", "preset %q not found", name)
		}
		return fmt.Errorf("failed to delete preset %q: %w", name, err)
	}
	applog.Infof("Config: deleted preset %q", name)
	return nil
}

func (s *FileStore) presetPath(name string) string {
	return filepath.Join(s.presetDir, name+presetExt)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	tmpPath = ""
	return nil
}
