// Package manifest handles garnet.toml and garnet.yaml runtime
// configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chazu/garnet/vm"
	"gopkg.in/yaml.v3"
)

// FileNames are the configuration files Load looks for, in order.
var FileNames = []string{"garnet.toml", "garnet.yaml", "garnet.yml"}

// Manifest represents a garnet configuration file.
type Manifest struct {
	Dispatch  Dispatch  `toml:"dispatch" yaml:"dispatch"`
	Fields    Fields    `toml:"fields" yaml:"fields"`
	Finalizer Finalizer `toml:"finalizer" yaml:"finalizer"`
	Log       Log       `toml:"log" yaml:"log"`
	Debug     Debug     `toml:"debug" yaml:"debug"`
	Workload  Workload  `toml:"workload" yaml:"workload"`
	Profile   Profile   `toml:"profile" yaml:"profile"`

	// Path is the file the manifest was loaded from, empty for defaults.
	Path string `toml:"-" yaml:"-"`
}

// Dispatch configures call-site inline caches.
type Dispatch struct {
	MaxEntries int `toml:"max_entries" yaml:"max_entries"`
}

// Fields configures object shapes and instance-variable caches.
type Fields struct {
	MaxShapeFields int `toml:"max_shape_fields" yaml:"max_shape_fields"`
	MaxSiteEntries int `toml:"max_site_entries" yaml:"max_site_entries"`
}

// Finalizer configures the periodic liveness sweeper. A zero interval
// disables it.
type Finalizer struct {
	SweepInterval time.Duration `toml:"sweep_interval" yaml:"sweep_interval"`
}

// Log configures the logging backend.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	Path      string `toml:"path" yaml:"path"`
}

// Debug configures lock diagnostics.
type Debug struct {
	DetectDeadlocks bool          `toml:"detect_deadlocks" yaml:"detect_deadlocks"`
	DeadlockTimeout time.Duration `toml:"deadlock_timeout" yaml:"deadlock_timeout"`
}

// Profile switches on call timing, type histograms and loop counters.
type Profile struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// Workload configures the built-in benchmark the CLI runs.
type Workload struct {
	Threads    int `toml:"threads" yaml:"threads"`
	Iterations int `toml:"iterations" yaml:"iterations"`
	Shapes     int `toml:"shapes" yaml:"shapes"`
}

// Default returns the configuration used when no file is present.
func Default() *Manifest {
	opts := vm.DefaultOptions()
	return &Manifest{
		Dispatch: Dispatch{MaxEntries: opts.MaxCacheEntries},
		Fields: Fields{
			MaxShapeFields: opts.MaxShapeFields,
			MaxSiteEntries: opts.MaxFieldCacheEntries,
		},
		Debug:    Debug{DeadlockTimeout: 30 * time.Second},
		Workload: Workload{Threads: 4, Iterations: 10000, Shapes: 3},
	}
}

// Load parses the first configuration file found in dir.
func Load(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no %s in %s", strings.Join(FileNames, " or "), dir)
}

// LoadFile parses a configuration file, choosing the format by extension.
// Settings the file leaves out keep their defaults.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		if err := toml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", ext)
	}

	if m.Path, err = filepath.Abs(path); err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a configuration file, then
// loads and returns it. Returns nil if none is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range FileNames {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return LoadFile(filepath.Join(dir, name))
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate rejects settings the runtime cannot honor.
func (m *Manifest) Validate() error {
	switch {
	case m.Dispatch.MaxEntries < 1:
		return fmt.Errorf("dispatch.max_entries must be at least 1, got %d", m.Dispatch.MaxEntries)
	case m.Fields.MaxShapeFields < 1:
		return fmt.Errorf("fields.max_shape_fields must be at least 1, got %d", m.Fields.MaxShapeFields)
	case m.Fields.MaxSiteEntries < 1:
		return fmt.Errorf("fields.max_site_entries must be at least 1, got %d", m.Fields.MaxSiteEntries)
	case m.Finalizer.SweepInterval < 0:
		return fmt.Errorf("finalizer.sweep_interval must not be negative, got %s", m.Finalizer.SweepInterval)
	case m.Workload.Threads < 0 || m.Workload.Iterations < 0 || m.Workload.Shapes < 0:
		return fmt.Errorf("workload settings must not be negative")
	}
	return nil
}

// Options returns the runtime options the manifest describes.
func (m *Manifest) Options() vm.Options {
	return vm.Options{
		MaxCacheEntries:      m.Dispatch.MaxEntries,
		MaxFieldCacheEntries: m.Fields.MaxSiteEntries,
		MaxShapeFields:       m.Fields.MaxShapeFields,
		SweepInterval:        m.Finalizer.SweepInterval,
		Profile:              m.Profile.Enabled,
	}
}

// Dir returns the directory containing the manifest file.
func (m *Manifest) Dir() string {
	if m.Path == "" {
		return ""
	}
	return filepath.Dir(m.Path)
}

// LogPath returns the log file path, nil for stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.Path == "" {
		return nil
	}
	p := m.Log.Path
	if !filepath.IsAbs(p) && m.Path != "" {
		p = filepath.Join(m.Dir(), p)
	}
	return &p
}
