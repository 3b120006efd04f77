// Package config loads the relay's process configuration: built-in defaults,
// an optional YAML file, environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	cli "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	BackendHTTP    = "http"
	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"
)

type Config struct {
	LogLevel     string `yaml:"log_level"`
	Listen       string `yaml:"listen"`
	StaticDir    string `yaml:"static_dir"`
	SettingsPath string `yaml:"settings_path"`
	SessionDB    string `yaml:"session_db"`
	Socket       string `yaml:"socket"`

	// Proxy is an optional SOCKS5 address for collaborator calls.
	Proxy               string        `yaml:"proxy"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`

	Transcriber TranscriberConfig `yaml:"transcriber"`
	Chat        ChatConfig        `yaml:"chat"`
	History     HistoryConfig     `yaml:"history"`

	GroupPattern string        `yaml:"group_pattern"`
	Notices      NoticesConfig `yaml:"notices"`
}

type TranscriberConfig struct {
	Backend  string `yaml:"backend"`
	URL      string `yaml:"url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Threads  int    `yaml:"threads"`
}

type ChatConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"`
}

type HistoryConfig struct {
	MaxExchanges int           `yaml:"max_exchanges"`
	IdleTTL      time.Duration `yaml:"idle_ttl"`
	Schedule     string        `yaml:"schedule"`
}

type NoticesConfig struct {
	Transcription string `yaml:"transcription"`
	Failure       string `yaml:"failure"`
}

func Default() *Config {
	return &Config{
		LogLevel:            "info",
		Listen:              ":3000",
		SettingsPath:        "config.json",
		SessionDB:           "session.db",
		Socket:              "/tmp/chatrelay.sock",
		CollaboratorTimeout: 120 * time.Second,
		Transcriber: TranscriberConfig{
			Backend:  BackendHTTP,
			URL:      "http://127.0.0.1:5000/transcribe",
			Language: "auto",
		},
		Chat: ChatConfig{
			Backend: BackendHTTP,
			URL:     "http://127.0.0.1:5000",
		},
		History: HistoryConfig{
			MaxExchanges: 20,
			Schedule:     "@every 10m",
		},
		GroupPattern: `@g\.us$`,
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CHATRELAY_LOG_LEVEL":     &c.LogLevel,
		"CHATRELAY_LISTEN":        &c.Listen,
		"CHATRELAY_STATIC_DIR":    &c.StaticDir,
		"CHATRELAY_SETTINGS_PATH": &c.SettingsPath,
		"CHATRELAY_SESSION_DB":    &c.SessionDB,
		"CHATRELAY_SOCKET":        &c.Socket,
		"CHATRELAY_PROXY":         &c.Proxy,
		"CHATRELAY_STT_BACKEND":   &c.Transcriber.Backend,
		"CHATRELAY_STT_URL":       &c.Transcriber.URL,
		"CHATRELAY_WHISPER_MODEL": &c.Transcriber.Model,
		"CHATRELAY_CHAT_BACKEND":  &c.Chat.Backend,
		"CHATRELAY_CHAT_URL":      &c.Chat.URL,
		"CHATRELAY_CHAT_MODEL":    &c.Chat.Model,
		"CHATRELAY_GROUP_PATTERN": &c.GroupPattern,
		"OPENAI_API_KEY":          &c.Chat.APIKey,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("CHATRELAY_MAX_EXCHANGES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATRELAY_MAX_EXCHANGES: %w", err)
		}
		c.History.MaxExchanges = n
	}
	if v, ok := lookup("CHATRELAY_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHATRELAY_TIMEOUT: %w", err)
		}
		c.CollaboratorTimeout = d
	}
	return nil
}

// Flags are the command-line overrides. Only flags set explicitly win over
// the file and the environment.
type Flags struct {
	Config    *string
	Env       *string
	Listen    *string
	Log       *string
	Proxy     *string
	StaticDir *string
	Socket    *string
}

func RegisterFlags(fs *cli.FlagSet) *Flags {
	return &Flags{
		Config:    fs.StringP("config", "c", "", "YAML config file"),
		Env:       fs.StringP("env", "e", ".env", "Env file path"),
		Listen:    fs.StringP("listen", "L", ":3000", "Control API address"),
		Log:       fs.StringP("log", "l", "info", "Log level"),
		Proxy:     fs.StringP("proxy", "p", "", "Socks proxy address for collaborator calls"),
		StaticDir: fs.StringP("static", "s", "", "Directory served as the front-end"),
		Socket:    fs.String("socket", "/tmp/chatrelay.sock", "Control socket path"),
	}
}

func (f *Flags) Apply(fs *cli.FlagSet, c *Config) {
	set := map[string]struct {
		src *string
		dst *string
	}{
		"listen": {f.Listen, &c.Listen},
		"log":    {f.Log, &c.LogLevel},
		"proxy":  {f.Proxy, &c.Proxy},
		"static": {f.StaticDir, &c.StaticDir},
		"socket": {f.Socket, &c.Socket},
	}
	for name, p := range set {
		if fs.Changed(name) {
			*p.dst = *p.src
		}
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Transcriber.Backend {
	case BackendHTTP:
		if c.Transcriber.URL == "" {
			errs = append(errs, errors.New("transcriber.url is required for the http backend"))
		}
	case BackendWhisper:
		if c.Transcriber.Model == "" {
			errs = append(errs, errors.New("transcriber.model is required for the whisper backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transcriber backend %q", c.Transcriber.Backend))
	}

	switch c.Chat.Backend {
	case BackendHTTP:
		if c.Chat.URL == "" {
			errs = append(errs, errors.New("chat.url is required for the http backend"))
		}
	case BackendOpenAI:
		if c.Chat.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown chat backend %q", c.Chat.Backend))
	}

	if c.History.MaxExchanges <= 0 {
		errs = append(errs, fmt.Errorf("history.max_exchanges must be positive, got %d", c.History.MaxExchanges))
	}
	if c.History.IdleTTL < 0 {
		errs = append(errs, errors.New("history.idle_ttl must not be negative"))
	}
	if c.CollaboratorTimeout <= 0 {
		errs = append(errs, errors.New("collaborator_timeout must be positive"))
	}
	if _, err := regexp.Compile(c.GroupPattern); err != nil {
		errs = append(errs, fmt.Errorf("group_pattern: %w", err))
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}

	return errors.Join(errs...)
}

// GroupRegexp compiles GroupPattern. Call after Validate.
func (c *Config) GroupRegexp() *regexp.Regexp {
	if c.GroupPattern == "" {
		return nil
	}
	return regexp.MustCompile(c.GroupPattern)
}
