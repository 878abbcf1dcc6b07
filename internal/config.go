package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ankisync/internal/anki"
	"github.com/starford/ankisync/internal/render"
	pkgconfig "github.com/starford/ankisync/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultConfigFile is the config path used when none is given. It is the
// only path allowed to be missing.
const DefaultConfigFile = "config/config.yaml"

// LoadConfig reads path over NewDefaultConfig. Only DefaultConfigFile may
// be missing, in which case the defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == DefaultConfigFile {
		if _, err := pkgconfig.LoadOptional(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := pkgconfig.Load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Anki      AnkiConfig        `yaml:"anki"`
	Notebooks NotebooksConfig   `yaml:"notebooks"`
	Render    RenderConfig      `yaml:"render"`
	Ledger    LedgerConfig      `yaml:"ledger"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Anki.Validate(); err != nil {
		return err
	}
	if err := c.Notebooks.Validate(); err != nil {
		return err
	}
	if err := c.Render.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, when set, sends logs to a rotating file instead of stderr.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AnkiConfig holds the AnkiConnect endpoint and the target deck.
type AnkiConfig struct {
	URL        string        `yaml:"url"`
	Version    int           `yaml:"version"`
	Deck       string        `yaml:"deck"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// Validate validates the AnkiConnect configuration. Deck may be empty here
// and supplied on the command line.
func (c *AnkiConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.Version, validation.Required, validation.Min(1)),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.Backoff, validation.Min(time.Duration(0))),
	)
}

// Options converts the configuration into client options.
func (c *AnkiConfig) Options() []anki.Option {
	return []anki.Option{
		anki.WithVersion(c.Version),
		anki.WithModel(c.Model),
		anki.WithTimeout(c.Timeout),
		anki.WithRetries(c.MaxRetries),
		anki.WithBackoff(c.Backoff),
	}
}

func httpURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

// NotebooksConfig holds the path to a notebook directory or a single
// notebook.
type NotebooksConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the notebooks configuration.
func (c *NotebooksConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RenderConfig controls how card backs are rendered.
type RenderConfig struct {
	Extensions []string `yaml:"extensions"`
	Sanitize   bool     `yaml:"sanitize"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Extensions, validation.Each(validation.In(toAny(render.ExtensionNames())...))),
	)
}

// Options converts the configuration into pipeline options.
func (c *RenderConfig) Options() render.Options {
	return render.Options{Extensions: c.Extensions, Sanitize: c.Sanitize}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// LedgerConfig holds the SQLite journal location. An empty path disables
// the journal.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration for the daemon API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8766,
			},
		},
		Anki: AnkiConfig{
			URL:        anki.DefaultURL,
			Version:    anki.DefaultVersion,
			Model:      anki.DefaultModel,
			Timeout:    anki.DefaultTimeout,
			MaxRetries: anki.DefaultMaxRetries,
			Backoff:    anki.DefaultBackoff,
		},
		Notebooks: NotebooksConfig{
			Path: ".",
		},
		Ledger: LedgerConfig{
			Path: ".ankisync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
