package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pulse/internal/engine"
	"pulse/internal/logger"
)

// Profile is a named set of engine threshold overrides. A profile claims one
// or more symbols; symbols without a claim fall back to the "default"
// profile, and in its absence to the base engine config untouched.
type Profile struct {
	ID               string   `yaml:"id" json:"id"`
	Description      string   `yaml:"description" json:"description"`
	Symbols          []string `yaml:"symbols" json:"symbols,omitempty"`
	MinTrendStrength *float64 `yaml:"min_trend_strength" json:"min_trend_strength,omitempty"`
	VolumeRatioMin   *float64 `yaml:"volume_ratio_min" json:"volume_ratio_min,omitempty"`
	VolumeRatioMax   *float64 `yaml:"volume_ratio_max" json:"volume_ratio_max,omitempty"`
	MinSeparationPct *float64 `yaml:"min_separation_pct" json:"min_separation_pct,omitempty"`
	TTLMinutes       *int     `yaml:"ttl_minutes" json:"ttl_minutes,omitempty"`
	Public           *bool    `yaml:"public" json:"public,omitempty"`
}

// FileConfig maps the profiles file root.
type FileConfig struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Snapshot is an immutable view of the loaded profiles.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
	bySymbol map[string]string
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

const profileSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"description": {"type": "string"},
		"symbols": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"min_trend_strength": {"type": "number", "minimum": 0, "maximum": 100},
		"volume_ratio_min": {"type": "number", "exclusiveMinimum": 0},
		"volume_ratio_max": {"type": "number", "exclusiveMinimum": 0},
		"min_separation_pct": {"type": "number", "minimum": 0},
		"ttl_minutes": {"type": "integer", "minimum": 1, "maximum": 1440},
		"public": {"type": "boolean"}
	}
}`

// Registry loads strategy profiles from a YAML file and keeps them fresh via
// a file watch. A reload that fails validation keeps the previous snapshot.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener

	schema *jsonschema.Schema
}

// NewRegistry reads the profiles file and starts watching it for edits.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile registry requires a path")
	}
	schema, err := compileProfileSchema()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profiles failed: %w", err)
	}
	r := &Registry{path: path, v: v, schema: schema}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.Reload(); err != nil {
			logger.Errorf("profile reload failed, keeping previous set: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current profile set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// OnChange registers a listener for future reloads.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// ProfileFor resolves the profile claiming symbol, falling back to "default".
func (s Snapshot) ProfileFor(symbol string) (Profile, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if id, ok := s.bySymbol[symbol]; ok {
		return s.Profiles[id], true
	}
	p, ok := s.Profiles["default"]
	return p, ok
}

// Apply overlays the profile's set fields onto a base engine config.
func (p Profile) Apply(base engine.Config) engine.Config {
	out := base
	if p.MinTrendStrength != nil {
		out.MinTrendStrength = *p.MinTrendStrength
	}
	if p.VolumeRatioMin != nil {
		out.VolumeRatioMin = *p.VolumeRatioMin
	}
	if p.VolumeRatioMax != nil {
		out.VolumeRatioMax = *p.VolumeRatioMax
	}
	if p.MinSeparationPct != nil {
		out.MinAvgSeparationPct = *p.MinSeparationPct
	}
	if p.TTLMinutes != nil {
		out.TTL = time.Duration(*p.TTLMinutes) * time.Minute
	}
	if p.Public != nil {
		out.Public = *p.Public
	}
	return out
}

// Reload re-reads the file, validates every profile, and swaps the snapshot
// atomically.
func (r *Registry) Reload() error {
	cfg, err := readProfilesFile(r.path)
	if err != nil {
		return err
	}
	profiles := make(map[string]Profile, len(cfg.Profiles))
	bySymbol := make(map[string]string)
	for name, p := range cfg.Profiles {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			p.ID = strings.TrimSpace(name)
		}
		if err := r.validateProfile(p); err != nil {
			return fmt.Errorf("profile %s invalid: %w", p.ID, err)
		}
		profiles[p.ID] = p
		for _, sym := range p.Symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			if prior, dup := bySymbol[sym]; dup {
				return fmt.Errorf("symbol %s claimed by both %s and %s", sym, prior, p.ID)
			}
			bySymbol[sym] = p.ID
		}
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
		bySymbol: bySymbol,
	}
	r.mu.Unlock()
	logger.Infof("Profile registry loaded %d profiles from %s", len(profiles), filepath.Base(r.path))
	return nil
}

func (r *Registry) validateProfile(p Profile) error {
	if p.VolumeRatioMin != nil && p.VolumeRatioMax != nil && *p.VolumeRatioMin >= *p.VolumeRatioMax {
		return fmt.Errorf("volume_ratio_min %.2f must be below volume_ratio_max %.2f",
			*p.VolumeRatioMin, *p.VolumeRatioMax)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return r.schema.Validate(doc)
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("profile listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func compileProfileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("profile.json", strings.NewReader(profileSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("profile.json")
}

func readProfilesFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read profiles failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse profiles failed: %w", err)
	}
	return cfg, nil
}
