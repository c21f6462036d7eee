package sessionmesh

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileOptions is the YAML shape of a sessionmesh settings file. Durations use
// Go duration syntax ("30m", "1h30m"). Zero values leave the corresponding
// option at its default.
type FileOptions struct {
	MaxEngines       int      `yaml:"max_engines"`
	IdleTimeout      Duration `yaml:"idle_timeout"`
	CacheTTL         Duration `yaml:"cache_ttl"`
	HistoryLoadLimit int      `yaml:"history_load_limit"`
	BatchSize        int      `yaml:"batch_size"`
	DefaultTitle     string   `yaml:"default_title"`
	CleanupInterval  Duration `yaml:"cleanup_interval"`
	AutoCleanup      bool     `yaml:"auto_cleanup"`
}

// Duration wraps time.Duration for YAML decoding from duration strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Apply copies the non-zero file settings onto opts.
func (f *FileOptions) Apply(o *Options) {
	if f.MaxEngines > 0 {
		o.MaxEngines = f.MaxEngines
	}
	if f.IdleTimeout > 0 {
		o.IdleTimeout = time.Duration(f.IdleTimeout)
	}
	if f.CacheTTL > 0 {
		o.CacheTTL = time.Duration(f.CacheTTL)
	}
	if f.HistoryLoadLimit > 0 {
		o.HistoryLoadLimit = f.HistoryLoadLimit
	}
	if f.BatchSize > 0 {
		o.BatchSize = f.BatchSize
	}
	if f.DefaultTitle != "" {
		o.DefaultTitle = f.DefaultTitle
	}
	if f.CleanupInterval > 0 {
		o.CleanupInterval = time.Duration(f.CleanupInterval)
	}
	if f.AutoCleanup {
		o.AutoCleanup = true
	}
}

// LoadOptionsFile parses a YAML settings file into an option function for
// New.
func LoadOptionsFile(path string) (func(o *Options), error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}
	var f FileOptions
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse options file: %w", err)
	}
	return f.Apply, nil
}
