package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every operational knob the pipeline reads at startup and
// may hot-reload (§1F). Session-scoped language settings are intentionally
// absent here: they are captured once into an immutable SessionConfig at
// start_listening and never touched by reload (§4.9/§9).
type Config struct {
	Asr          AsrConfig          `yaml:"asr" json:"asr"`
	Llm          LlmConfig          `yaml:"llm" json:"llm"`
	Combiner     CombinerConfig     `yaml:"combiner" json:"combiner"`
	Paragraph    ParagraphConfig    `yaml:"paragraph" json:"paragraph"`
	Queue        QueueConfig        `yaml:"queue" json:"queue"`
	Coalescer    CoalescerConfig    `yaml:"coalescer" json:"coalescer"`
	Summarizer   SummarizerConfig   `yaml:"summarizer" json:"summarizer"`
	Presentation PresentationConfig `yaml:"presentation" json:"presentation"`
	Persistence  PersistenceConfig  `yaml:"persistence" json:"persistence"`
}

type AsrConfig struct {
	Provider       string   `yaml:"provider" json:"provider"`
	Credentials    string   `yaml:"credentials" json:"credentials"`
	AltLangs       []string `yaml:"alt_langs" json:"alt_langs"`
	EndpointingMs  int32    `yaml:"endpointing_ms" json:"endpointing_ms"`
	UtteranceEndMs int      `yaml:"utterance_end_ms" json:"utterance_end_ms"`
	Interim        bool     `yaml:"interim" json:"interim"`
}

type LlmConfig struct {
	Provider      string `yaml:"provider" json:"provider"`
	APIKey        string `yaml:"api_key" json:"api_key"`
	Model         string `yaml:"model" json:"model"`
	QualityModel  string `yaml:"quality_model" json:"quality_model"`
	ReportModel   string `yaml:"report_model" json:"report_model"`
	FallbackModel string `yaml:"fallback_model" json:"fallback_model"`
}

type CombinerConfig struct {
	MinSegments int `yaml:"min_segments" json:"min_segments"`
	MaxSegments int `yaml:"max_segments" json:"max_segments"`
	TimeoutMs   int `yaml:"timeout_ms" json:"timeout_ms"`
}

type ParagraphConfig struct {
	Enabled          bool `yaml:"enabled" json:"enabled"`
	TargetMinSeconds int  `yaml:"target_min_seconds" json:"target_min_seconds"`
	TargetMaxSeconds int  `yaml:"target_max_seconds" json:"target_max_seconds"`
}

type QueueConfig struct {
	MaxQueue         int `yaml:"max_queue" json:"max_queue"`
	MaxConcurrency   int `yaml:"max_concurrency" json:"max_concurrency"`
	RequestTimeoutMs int `yaml:"request_timeout_ms" json:"request_timeout_ms"`
	MaxWaitMs        int `yaml:"max_wait_ms" json:"max_wait_ms"`
}

type CoalescerConfig struct {
	DebounceMs int `yaml:"debounce_ms" json:"debounce_ms"`
	MaxHoldMs  int `yaml:"max_hold_ms" json:"max_hold_ms"`
}

type SummarizerConfig struct {
	Thresholds []int `yaml:"thresholds" json:"thresholds"`
	Increment  int   `yaml:"increment" json:"increment"`
}

type PresentationConfig struct {
	Port int `yaml:"port" json:"port"`
}

type PersistenceConfig struct {
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

// RequestTimeout returns the queue's request timeout as a time.Duration.
func (q QueueConfig) RequestTimeout() time.Duration {
	return time.Duration(q.RequestTimeoutMs) * time.Millisecond
}

// MaxWait returns the queue's starvation threshold as a time.Duration.
func (q QueueConfig) MaxWait() time.Duration {
	return time.Duration(q.MaxWaitMs) * time.Millisecond
}

// Load reads and parses a YAML config file, applying the defaults named
// throughout §4.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Asr.Credentials != "" && !filepath.IsAbs(cfg.Asr.Credentials) {
		configDir := filepath.Dir(path)
		cfg.Asr.Credentials = filepath.Join(configDir, cfg.Asr.Credentials)
	}
	if cfg.Asr.Credentials != "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", cfg.Asr.Credentials)
	}

	applyZeroValueDefaults(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Asr: AsrConfig{
			Provider:       "google",
			EndpointingMs:  800,
			UtteranceEndMs: 1000,
			Interim:        true,
		},
		Llm: LlmConfig{
			Provider:      "gemini",
			Model:         "gemini-2.5-flash",
			FallbackModel: "gemini-2.0-flash",
		},
		Combiner: CombinerConfig{MinSegments: 1, MaxSegments: 3, TimeoutMs: 1200},
		Paragraph: ParagraphConfig{
			Enabled:          false,
			TargetMinSeconds: 20,
			TargetMaxSeconds: 60,
		},
		Queue:        QueueConfig{MaxQueue: 256, MaxConcurrency: 3, RequestTimeoutMs: 7000, MaxWaitMs: 15000},
		Coalescer:    CoalescerConfig{DebounceMs: 120, MaxHoldMs: 400},
		Summarizer:   SummarizerConfig{Thresholds: []int{400, 800, 1600, 2400}, Increment: 800},
		Presentation: PresentationConfig{Port: 8899},
	}
}

// applyZeroValueDefaults re-applies any default that yaml.Unmarshal
// zeroed out because the key was present but empty, or patches defaults
// for fields a hand-edited file omitted entirely after a partial rewrite.
func applyZeroValueDefaults(cfg *Config) {
	if cfg.Queue.MaxConcurrency <= 0 {
		cfg.Queue.MaxConcurrency = 3
	}
	if cfg.Queue.RequestTimeoutMs <= 0 {
		cfg.Queue.RequestTimeoutMs = 7000
	}
	if cfg.Queue.MaxWaitMs <= 0 {
		cfg.Queue.MaxWaitMs = 15000
	}
	if cfg.Coalescer.DebounceMs <= 0 {
		cfg.Coalescer.DebounceMs = 120
	}
	if cfg.Coalescer.MaxHoldMs <= 0 {
		cfg.Coalescer.MaxHoldMs = 400
	}
	if len(cfg.Summarizer.Thresholds) == 0 {
		cfg.Summarizer.Thresholds = []int{400, 800, 1600, 2400}
	}
}

// Save writes cfg back to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
