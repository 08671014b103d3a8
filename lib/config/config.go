// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when no flag is given.
const EnvironmentVariable = "STASHWATCH_CONFIG"

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "1m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", value.Line)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the whole configuration file.
type Config struct {
	Feed      FeedConfig      `yaml:"feed"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Poller    PollerConfig    `yaml:"poller"`
	Diff      DiffConfig      `yaml:"diff"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Handler   HandlerConfig   `yaml:"handler"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// FeedConfig configures the feed endpoints.
type FeedConfig struct {
	URL          string   `yaml:"url"`
	BootstrapURL string   `yaml:"bootstrap_url"`
	UserAgent    string   `yaml:"user_agent"`
	StartCursor  string   `yaml:"start_cursor"`
	MaxBodySize  int64    `yaml:"max_body_size"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
}

// BootstrapConfig configures the initial cursor request.
type BootstrapConfig struct {
	Attempts       int      `yaml:"attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Timeout        Duration `yaml:"timeout"`
}

// PollerConfig configures the poll loop.
type PollerConfig struct {
	MinInterval    Duration `yaml:"min_interval"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	IdleDelay      Duration `yaml:"idle_delay"`
}

// DiffConfig configures the diff engine.
type DiffConfig struct {
	// Retain is "items" (remove events carry the last seen item
	// objects) or "keys" (remove events carry item ids only, using
	// less memory).
	Retain string `yaml:"retain"`
}

// DispatchConfig configures event delivery.
type DispatchConfig struct {
	MaxQueueBytes   int      `yaml:"max_queue_bytes"`
	DeliveryTimeout Duration `yaml:"delivery_timeout"`
	DrainTimeout    Duration `yaml:"drain_timeout"`
}

// HandlerConfig selects the sandboxes events are delivered to. Scripts
// and a socket may be combined; with neither, events are logged.
type HandlerConfig struct {
	AddScript    string   `yaml:"add_script"`
	RemoveScript string   `yaml:"remove_script"`
	Interpreter  []string `yaml:"interpreter"`
	SnapshotDir  string   `yaml:"snapshot_dir"`
	Env          []string `yaml:"env"`
	Socket       string   `yaml:"socket"`
}

// HasScripts reports whether a script handler is configured.
func (h HandlerConfig) HasScripts() bool {
	return h.AddScript != "" || h.RemoveScript != ""
}

// LedgerConfig configures the page history. Empty Path disables it.
type LedgerConfig struct {
	Path      string   `yaml:"path"`
	Retention Duration `yaml:"retention"`
}

// MetricsConfig configures the operational HTTP listener. Empty
// Address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text or
	// json.
	Format string `yaml:"format"`
}

// Default returns the configuration used for any field a file leaves
// unset.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:          "https://www.pathofexile.com/api/public-stash-tabs",
			BootstrapURL: "https://poe.ninja/api/Data/GetStats",
			UserAgent:    "stashwatch/0.1",
			MaxBodySize:  64 << 20,
			FetchTimeout: Duration(30 * time.Second),
		},
		Bootstrap: BootstrapConfig{
			Attempts:       5,
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
			Timeout:        Duration(30 * time.Second),
		},
		Poller: PollerConfig{
			MinInterval:    Duration(time.Second),
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(60 * time.Second),
			IdleDelay:      Duration(5 * time.Second),
		},
		Diff: DiffConfig{Retain: "items"},
		Dispatch: DispatchConfig{
			MaxQueueBytes:   64 << 20,
			DeliveryTimeout: Duration(10 * time.Second),
			DrainTimeout:    Duration(5 * time.Second),
		},
		Handler: HandlerConfig{
			Interpreter: []string{"/bin/sh"},
			SnapshotDir: "${XDG_STATE_HOME:-${HOME}/.local/state}/stashwatch/scripts",
		},
		Ledger: LedgerConfig{
			Retention: Duration(7 * 24 * time.Hour),
		},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

// Load loads the file named by STASHWATCH_CONFIG, or returns Default
// if the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		config := Default()
		config.expandVariables()
		return config, nil
	}
	return LoadFile(path)
}

// LoadFile loads the file at path over Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes data over Default. extension selects the syntax:
// ".json" and ".jsonc" are JSON with comments, anything else YAML.
func Parse(data []byte, extension string) (*Config, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	config.expandVariables()
	return config, nil
}

func (c *Config) expandVariables() {
	c.Handler.AddScript = expandVars(c.Handler.AddScript)
	c.Handler.RemoveScript = expandVars(c.Handler.RemoveScript)
	c.Handler.SnapshotDir = expandVars(c.Handler.SnapshotDir)
	c.Handler.Socket = expandVars(c.Handler.Socket)
	c.Ledger.Path = expandVars(c.Ledger.Path)
}

// varPattern matches ${VAR} and ${VAR:-default}. The default may itself
// contain one level of ${VAR}.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^{}]|\$\{[^{}]*\})*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return expandVars(parts[2])
	})
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	for _, endpoint := range []struct{ name, raw string }{
		{"feed.url", c.Feed.URL},
		{"feed.bootstrap_url", c.Feed.BootstrapURL},
	} {
		if endpoint.raw == "" && endpoint.name == "feed.bootstrap_url" {
			continue
		}
		parsed, err := url.Parse(endpoint.raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an http or https URL, got %q", endpoint.name, endpoint.raw))
		}
	}
	if c.Feed.StartCursor == "" && c.Feed.BootstrapURL == "" {
		errs = append(errs, errors.New("feed.bootstrap_url is required when feed.start_cursor is empty"))
	}
	if c.Feed.MaxBodySize <= 0 {
		errs = append(errs, errors.New("feed.max_body_size must be positive"))
	}

	for _, setting := range []struct {
		name  string
		value Duration
	}{
		{"feed.fetch_timeout", c.Feed.FetchTimeout},
		{"bootstrap.initial_backoff", c.Bootstrap.InitialBackoff},
		{"bootstrap.max_backoff", c.Bootstrap.MaxBackoff},
		{"bootstrap.timeout", c.Bootstrap.Timeout},
		{"poller.initial_backoff", c.Poller.InitialBackoff},
		{"poller.max_backoff", c.Poller.MaxBackoff},
		{"poller.idle_delay", c.Poller.IdleDelay},
		{"dispatch.delivery_timeout", c.Dispatch.DeliveryTimeout},
		{"dispatch.drain_timeout", c.Dispatch.DrainTimeout},
		{"ledger.retention", c.Ledger.Retention},
	} {
		if setting.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", setting.name))
		}
	}
	if c.Poller.MinInterval < 0 {
		errs = append(errs, errors.New("poller.min_interval must not be negative"))
	}
	if c.Poller.MaxBackoff < c.Poller.InitialBackoff {
		errs = append(errs, errors.New("poller.max_backoff must not be below poller.initial_backoff"))
	}
	if c.Bootstrap.Attempts < 1 {
		errs = append(errs, errors.New("bootstrap.attempts must be at least 1"))
	}

	if c.Diff.Retain != "items" && c.Diff.Retain != "keys" {
		errs = append(errs, fmt.Errorf("diff.retain must be items or keys, got %q", c.Diff.Retain))
	}
	if c.Dispatch.MaxQueueBytes <= 0 {
		errs = append(errs, errors.New("dispatch.max_queue_bytes must be positive"))
	}

	if c.Handler.HasScripts() {
		if len(c.Handler.Interpreter) == 0 {
			errs = append(errs, errors.New("handler.interpreter must not be empty when scripts are set"))
		}
		if c.Handler.SnapshotDir == "" {
			errs = append(errs, errors.New("handler.snapshot_dir is required when scripts are set"))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be auto, text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
