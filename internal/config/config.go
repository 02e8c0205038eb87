// Package config handles Veronica configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/veronica/config.yaml, /etc/veronica/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "veronica", "config.yaml"))
	}

	paths = append(paths, "/etc/veronica/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Veronica configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Prompt      PromptConfig      `yaml:"prompt"`
	History     HistoryConfig     `yaml:"history"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Store       StoreConfig       `yaml:"store"`
	Weather     WeatherConfig     `yaml:"weather"`
	Music       MusicConfig       `yaml:"music"`
	TrainStatus TrainStatusConfig `yaml:"train_status"`
	Devices     DevicesConfig     `yaml:"devices"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	LogLevel    string            `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OpenAIConfig defines the completion provider.
type OpenAIConfig struct {
	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"` // empty = api.openai.com
	Model           string  `yaml:"model"`
	Temperature     float32 `yaml:"temperature"`
	PresencePenalty float32 `yaml:"presence_penalty"`
	TimeoutSec      int     `yaml:"timeout_sec"`
}

// Timeout returns the per-request provider timeout.
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// PromptConfig defines the system prompt. File wins over System when set.
type PromptConfig struct {
	System string `yaml:"system"`
	File   string `yaml:"file"`
}

// HistoryConfig sizes the per-conversation history buffer.
type HistoryConfig struct {
	// Capacity is the number of turns retained per conversation.
	// Older turns are evicted first.
	Capacity int `yaml:"capacity"`
}

// DispatchConfig controls how actions requested by the provider run.
type DispatchConfig struct {
	// TimeoutSec bounds a single handler call. A handler that runs
	// longer is abandoned and reported to the provider as a failure.
	TimeoutSec int `yaml:"timeout_sec"`
	// MaxIterations caps completion round-trips for one inbound message.
	MaxIterations int `yaml:"max_iterations"`
	// Policies override per-action behavior, keyed by action name
	// (e.g. reply_with_expression).
	Policies map[string]PolicyConfig `yaml:"policies"`
}

// Timeout returns the handler timeout.
func (c DispatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// PolicyConfig overrides the behavior of one action. Nil fields keep
// the built-in default.
type PolicyConfig struct {
	// FollowUp requests another completion after the action's outcome.
	// When false the outcome itself becomes the final reply.
	FollowUp *bool `yaml:"follow_up"`
	// TerminalOnFailure ends the exchange with a static apology when the
	// action fails instead of asking the provider to recover.
	TerminalOnFailure *bool `yaml:"terminal_on_failure"`
}

// StoreConfig defines the SQLite-backed store for todos, memories and tokens.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WeatherConfig defines the weather lookup.
type WeatherConfig struct {
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Location string `yaml:"location"`
}

// Configured reports whether weather lookups can be made.
func (c WeatherConfig) Configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// MusicConfig defines the music-control session endpoint.
type MusicConfig struct {
	URL string `yaml:"url"`
}

// TrainStatusConfig defines the live train status page.
type TrainStatusConfig struct {
	URL          string `yaml:"url"`
	DefaultTrain int    `yaml:"default_train"`
}

// DevicesConfig defines the websocket endpoint device observers connect to.
type DevicesConfig struct {
	Path     string `yaml:"path"`
	Greeting string `yaml:"greeting"`
}

// MQTTConfig defines the optional MQTT mirror for device actions.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://homeassistant.local:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether an MQTT broker was supplied.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file. Missing fields keep the
// values from [Default].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.History.Capacity < 1 {
		errs = append(errs, fmt.Errorf("history.capacity must be at least 1, got %d", c.History.Capacity))
	}
	if c.Dispatch.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_iterations must be at least 1, got %d", c.Dispatch.MaxIterations))
	}
	if c.Dispatch.TimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("dispatch.timeout_sec must be at least 1, got %d", c.Dispatch.TimeoutSec))
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port out of range: %d", c.Listen.Port))
	}
	if err := validateDevicesPath(c.Devices.Path); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// reservedPaths are served by the API itself; reservedPrefixes cover
// whole route trees.
var (
	reservedPaths    = []string{"/", "/ping", "/health", "/version", "/clear", "/todo", "/memory"}
	reservedPrefixes = []string{"/v1/", "/storetoken/"}
)

// validateDevicesPath rejects websocket paths the request router
// cannot register alongside the built-in routes.
func validateDevicesPath(p string) error {
	switch {
	case p == "":
		return errors.New("devices.path must not be empty")
	case !strings.HasPrefix(p, "/"):
		return fmt.Errorf("devices.path must start with /, got %q", p)
	case strings.ContainsAny(p, "{} \t"):
		return fmt.Errorf("devices.path must be a literal path, got %q", p)
	}
	trimmed := strings.TrimSuffix(p, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	for _, r := range reservedPaths {
		if trimmed == r {
			return fmt.Errorf("devices.path %q is reserved by the API", p)
		}
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(p+"/", prefix) {
			return fmt.Errorf("devices.path %q is reserved by the API", p)
		}
	}
	return nil
}

// SystemPrompt returns the configured system prompt, reading
// Prompt.File when set.
func (c *Config) SystemPrompt() (string, error) {
	if c.Prompt.File == "" {
		return c.Prompt.System, nil
	}
	data, err := os.ReadFile(c.Prompt.File)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(data), nil
}

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = `You are Veronica, a friendly personal assistant with a playful personality.
Keep replies short and conversational. Use the available functions to remember
things about the user, manage their todo list, check the weather, control their
music and devices, and look up live train status. Prefer replying with an
expression whenever a reply has an obvious emotion.`

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 3000},
		OpenAI: OpenAIConfig{
			Model:           "gpt-3.5-turbo",
			Temperature:     1.3,
			PresencePenalty: 1.2,
			TimeoutSec:      120,
		},
		Prompt:  PromptConfig{System: DefaultSystemPrompt},
		History: HistoryConfig{Capacity: 10},
		Dispatch: DispatchConfig{
			TimeoutSec:    30,
			MaxIterations: 8,
		},
		Store: StoreConfig{Path: "veronica.db"},
		Weather: WeatherConfig{
			URL:      "http://api.weatherapi.com",
			Location: "bhubaneshwar",
		},
		TrainStatus: TrainStatusConfig{
			URL:          "https://runningstatus.in",
			DefaultTrain: 18451,
		},
		Devices: DevicesConfig{
			Path:     "/ws",
			Greeting: "Successfully connected !",
		},
		MQTT: MQTTConfig{
			DeviceName:  "veronica",
			TopicPrefix: "veronica",
		},
		LogLevel: "info",
	}
}
