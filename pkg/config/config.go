// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"

	"github.com/protolens/protolens/pkg/detect"
	"github.com/protolens/protolens/pkg/protocol"
)

// Config is the application configuration tree.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Detector DetectorConfig `koanf:"detector"`
	Agent    AgentConfig    `koanf:"agent"`
}

// LogConfig controls global logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"omitempty,oneof=text json"`
}

// DetectorConfig mirrors the detector builder surface.
type DetectorConfig struct {
	Preset        string   `koanf:"preset" validate:"omitempty,oneof=balanced high_performance high_accuracy"`
	Protocols     []string `koanf:"protocols" validate:"min=1"`
	Strategy      string   `koanf:"strategy" validate:"omitempty,oneof=passive active hybrid"`
	Timeout       string   `koanf:"timeout"`
	MinConfidence float64  `koanf:"min_confidence" validate:"gte=0,lte=1"`
	MinWindow     int      `koanf:"min_window" validate:"gte=1"`
	BufferHint    int      `koanf:"buffer_hint" validate:"gte=0"`
	Accelerated   bool     `koanf:"accelerated"`
	Heuristic     bool     `koanf:"heuristic"`
	CatalogPath   string   `koanf:"catalog_path"`
}

// AgentConfig configures the optional agent wrapper.
type AgentConfig struct {
	Role      string   `koanf:"role" validate:"omitempty,oneof=server client"`
	Endpoints []string `koanf:"endpoints"`
	Balance   string   `koanf:"balance" validate:"omitempty,oneof=round_robin least_conn consistent_hash"`
	Fallback  []string `koanf:"fallback"`
}

// DefaultConfig returns the hardcoded baseline.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Detector: DetectorConfig{
			Preset:        "balanced",
			Protocols:     tagStrings(protocol.All()),
			Strategy:      "passive",
			Timeout:       "100ms",
			MinConfidence: detect.DefaultMinConfidence,
			MinWindow:     detect.DefaultMinWindow,
			BufferHint:    detect.DefaultBufferHint,
			Accelerated:   true,
		},
		Agent: AgentConfig{Role: "server", Balance: "round_robin"},
	}
}

func tagStrings(tags []protocol.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

// DefaultConfigAsMap flattens the defaults for koanf's confmap provider.
func DefaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,

		"detector.preset":         def.Detector.Preset,
		"detector.protocols":      def.Detector.Protocols,
		"detector.strategy":       def.Detector.Strategy,
		"detector.timeout":        def.Detector.Timeout,
		"detector.min_confidence": def.Detector.MinConfidence,
		"detector.min_window":     def.Detector.MinWindow,
		"detector.buffer_hint":    def.Detector.BufferHint,
		"detector.accelerated":    def.Detector.Accelerated,
		"detector.heuristic":      def.Detector.Heuristic,
		"detector.catalog_path":   def.Detector.CatalogPath,

		"agent.role":      def.Agent.Role,
		"agent.endpoints": def.Agent.Endpoints,
		"agent.balance":   def.Agent.Balance,
		"agent.fallback":  def.Agent.Fallback,
	}
}

// Manager loads and serves the merged configuration.
type Manager struct {
	k       *koanf.Koanf
	mu      sync.RWMutex
	current Config
}

// NewManager returns an empty configuration manager.
func NewManager() *Manager {
	return &Manager{k: koanf.New(".")}
}

// Load merges defaults, an optional YAML file, and command-line flags, in
// ascending precedence, then validates the result.
func (m *Manager) Load(flags *pflag.FlagSet, configFilePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}
	if configFilePath != "" {
		if err := m.k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return fmt.Errorf("loading config file %s: %w", configFilePath, err)
		}
	}
	if flags != nil {
		if err := m.k.Load(posflag.Provider(flags, ".", m.k), nil); err != nil {
			return fmt.Errorf("loading command-line flags: %w", err)
		}
	}

	var cfg Config
	if err := m.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	m.current = cfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

var validate = validator.New()

// Validate checks the configuration tree against its struct tags plus the
// cross-field rules tags cannot express.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Detector.Timeout != "" {
		d, err := time.ParseDuration(cfg.Detector.Timeout)
		if err != nil {
			return fmt.Errorf("invalid configuration: detector.timeout: %w", err)
		}
		if d < time.Millisecond {
			return fmt.Errorf("invalid configuration: detector.timeout must be at least 1ms")
		}
	}
	for _, p := range cfg.Detector.Protocols {
		if !knownProtocol(p) {
			return fmt.Errorf("invalid configuration: unknown protocol %q", p)
		}
	}
	return nil
}

func knownProtocol(name string) bool {
	tag := protocol.Tag(strings.ToLower(name))
	if tag.IsCustom() {
		return true
	}
	for _, t := range protocol.All() {
		if t == tag {
			return true
		}
	}
	return false
}

// DetectorOptions translates the configuration into builder options. A
// named preset pins the knobs it defines; timeout and strategy keys set
// explicitly alongside it still apply.
func (c DetectorConfig) DetectorOptions() (detect.Options, error) {
	opts := detect.Options{
		MinConfidence: c.MinConfidence,
		MinWindow:     c.MinWindow,
		BufferHint:    c.BufferHint,
		Accelerated:   c.Accelerated,
		Heuristic:     c.Heuristic,
	}

	switch c.Preset {
	case "high_performance":
		opts.Strategy = detect.StrategyPassive
		opts.Timeout = 50 * time.Millisecond
		opts.Accelerated = true
		opts.MinConfidence = 0.80
	case "high_accuracy":
		opts.Heuristic = true
		opts.Timeout = 200 * time.Millisecond
		opts.MinConfidence = 0.90
	}

	// The baseline timeout is always present after a defaults merge; it
	// must not undo a preset's tighter deadline.
	baseline := DefaultConfig().Detector.Timeout
	if c.Timeout != "" && (opts.Timeout == 0 || c.Timeout != baseline) {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return detect.Options{}, fmt.Errorf("detector.timeout: %w", err)
		}
		opts.Timeout = d
	}

	switch c.Strategy {
	case "active":
		opts.Strategy = detect.StrategyActive
	case "hybrid":
		opts.Strategy = detect.StrategyHybrid
	case "", "passive":
		opts.Strategy = detect.StrategyPassive
	}

	for _, name := range c.Protocols {
		opts.EnabledProtocols = append(opts.EnabledProtocols,
			protocol.Tag(strings.ToLower(cast.ToString(name))))
	}

	if c.CatalogPath != "" {
		sigs, err := detect.LoadCatalog(c.CatalogPath)
		if err != nil {
			return detect.Options{}, err
		}
		opts.CustomSignatures = sigs
	}
	return opts, nil
}
