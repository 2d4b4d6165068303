package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/vigil/internal/risk"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// Engine holds the tunables of the analysis loop, loaded from YAML.
type Engine struct {
	Window      WindowConfig    `yaml:"window"`
	Keywords    risk.Keywords   `yaml:"keywords"`
	Intervals   IntervalConfig  `yaml:"intervals"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Model       ModelConfig     `yaml:"model"`
	Rates       RatesConfig     `yaml:"rates"`
	IdleTimeout time.Duration   `yaml:"idle_timeout"`
	ReapEvery   string          `yaml:"reap_schedule"`
}

type WindowConfig struct {
	Turns    int `yaml:"turns"`
	Chars    int `yaml:"chars"`
	MinTurns int `yaml:"min_turns"`
}

type IntervalConfig struct {
	Red    time.Duration `yaml:"red"`
	Yellow time.Duration `yaml:"yellow"`
	Green  time.Duration `yaml:"green"`
}

type RetrievalConfig struct {
	TopK     int           `yaml:"top_k"`
	MinScore float64       `yaml:"min_score"`
	Category string        `yaml:"category"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  *int          `yaml:"retries"`
}

type ModelConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Retries   *int          `yaml:"retries"`
	Backoff   time.Duration `yaml:"backoff"`
	MaxTokens int           `yaml:"max_tokens"`
}

// RatesConfig is priced in USD per million tokens.
type RatesConfig struct {
	Input      float64 `yaml:"input"`
	Output     float64 `yaml:"output"`
	CacheWrite float64 `yaml:"cache_write"`
	CacheRead  float64 `yaml:"cache_read"`
}

// DefaultEngine returns the built-in engine configuration.
func DefaultEngine() *Engine {
	e := &Engine{}
	e.applyDefaults()
	return e
}

// LoadEngine reads the engine file at path. An empty path yields the defaults.
func LoadEngine(path string) (*Engine, error) {
	if path == "" {
		return DefaultEngine(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseEngine(data)
}

// ParseEngine unmarshals YAML into a validated Engine. Omitted fields take
// their defaults.
func ParseEngine(data []byte) (*Engine, error) {
	var e Engine
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("config: parse engine: %w", err)
	}
	e.applyDefaults()
	if err := e.validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Engine) applyDefaults() {
	if e.Window.Turns == 0 {
		e.Window.Turns = transcript.DefaultWindowTurns
	}
	if e.Window.Chars == 0 {
		e.Window.Chars = transcript.DefaultWindowChars
	}
	if e.Window.MinTurns == 0 {
		e.Window.MinTurns = transcript.DefaultMinTurns
	}

	def := risk.DefaultKeywords()
	if e.Keywords.Red == nil {
		e.Keywords.Red = def.Red
	}
	if e.Keywords.Yellow == nil {
		e.Keywords.Yellow = def.Yellow
	}
	if e.Keywords.Positive == nil {
		e.Keywords.Positive = def.Positive
	}

	if e.Intervals.Red == 0 {
		e.Intervals.Red = risk.DefaultRedInterval
	}
	if e.Intervals.Yellow == 0 {
		e.Intervals.Yellow = risk.DefaultYellowInterval
	}
	if e.Intervals.Green == 0 {
		e.Intervals.Green = risk.DefaultGreenInterval
	}

	if e.Retrieval.TopK == 0 {
		e.Retrieval.TopK = 3
	}
	if e.Retrieval.MinScore == 0 {
		e.Retrieval.MinScore = 0.3
	}
	if e.Retrieval.Timeout == 0 {
		e.Retrieval.Timeout = 3 * time.Second
	}
	if e.Retrieval.Retries == nil {
		e.Retrieval.Retries = intPtr(1)
	}

	if e.Model.Timeout == 0 {
		e.Model.Timeout = 20 * time.Second
	}
	if e.Model.Retries == nil {
		e.Model.Retries = intPtr(1)
	}
	if e.Model.Backoff == 0 {
		e.Model.Backoff = 500 * time.Millisecond
	}
	if e.Model.MaxTokens == 0 {
		e.Model.MaxTokens = 1024
	}

	if e.Rates == (RatesConfig{}) {
		e.Rates = RatesConfig{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3}
	}

	if e.IdleTimeout == 0 {
		e.IdleTimeout = 30 * time.Minute
	}
	if e.ReapEvery == "" {
		e.ReapEvery = "@every 1m"
	}
}

func (e *Engine) validate() error {
	var errs []string
	if e.Window.Turns < 0 {
		errs = append(errs, "window.turns must be positive")
	}
	if e.Window.Chars < 0 {
		errs = append(errs, "window.chars must be positive")
	}
	if e.Window.MinTurns < 0 {
		errs = append(errs, "window.min_turns must be positive")
	}
	if _, err := e.Classifier(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := e.IntervalTable(); err != nil {
		errs = append(errs, err.Error())
	}
	if e.Retrieval.TopK < 0 {
		errs = append(errs, "retrieval.top_k must be positive")
	}
	if e.Retrieval.MinScore < -1 || e.Retrieval.MinScore > 1 {
		errs = append(errs, "retrieval.min_score must be within [-1, 1]")
	}
	if e.Retrieval.Timeout < 0 {
		errs = append(errs, "retrieval.timeout must be positive")
	}
	if *e.Retrieval.Retries < 0 {
		errs = append(errs, "retrieval.retries must not be negative")
	}
	if e.Model.Timeout < 0 {
		errs = append(errs, "model.timeout must be positive")
	}
	if *e.Model.Retries < 0 {
		errs = append(errs, "model.retries must not be negative")
	}
	if e.Model.MaxTokens < 0 {
		errs = append(errs, "model.max_tokens must be positive")
	}
	if e.Rates.Input < 0 || e.Rates.Output < 0 || e.Rates.CacheWrite < 0 || e.Rates.CacheRead < 0 {
		errs = append(errs, "rates must not be negative")
	}
	if e.IdleTimeout < 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Classifier builds the keyword classifier described by the engine config.
func (e *Engine) Classifier() (*risk.Classifier, error) {
	return risk.NewClassifier(e.Keywords)
}

// IntervalTable builds the level-to-cadence table.
func (e *Engine) IntervalTable() (risk.IntervalTable, error) {
	return risk.NewIntervalTable(e.Intervals.Red, e.Intervals.Yellow, e.Intervals.Green)
}

// Extractor builds the window extractor.
func (e *Engine) Extractor() *transcript.Extractor {
	return transcript.NewExtractor(e.Window.Turns, e.Window.Chars, e.Window.MinTurns)
}

func intPtr(n int) *int { return &n }
