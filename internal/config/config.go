// Package config loads edcomposer settings.
//
// Values are resolved in this order, later sources winning:
//
//  1. built-in defaults
//  2. a TOML file (the path passed to Load, or EDCOMPOSER_CONFIG)
//  3. environment variables, after a .env file in the working directory has
//     been merged into the environment
//
// A missing TOML file is not an error.
package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/render"
)

// PathEnv names the variable holding the TOML config path.
const PathEnv = "EDCOMPOSER_CONFIG"

// Duration is a time.Duration read from strings such as "1500ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	Renderer  RendererConfig  `toml:"renderer"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Storage   StorageConfig   `toml:"storage"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	Log       LogConfig       `toml:"log"`
}

type HTTPConfig struct {
	Port               string   `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// RendererConfig describes the render backend and the polling schedule.
type RendererConfig struct {
	BaseURL        string   `toml:"base_url"`
	RequestTimeout Duration `toml:"request_timeout"`
	PollInterval   Duration `toml:"poll_interval"`
	BackoffBase    Duration `toml:"backoff_base"`
	BackoffCap     Duration `toml:"backoff_cap"`
	// BackoffMaxRetries is the number of consecutive transient poll
	// failures that fail a render.
	BackoffMaxRetries int      `toml:"backoff_max_retries"`
	AbortTimeout      Duration `toml:"abort_timeout"`
}

// DatabaseConfig is optional; without a URL the static composition catalog
// is used.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig is optional; without an address events stay in process.
type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	EventsChannel string `toml:"events_channel"`
}

type StorageConfig struct {
	Provider  string       `toml:"provider"`
	LocalRoot string       `toml:"local_root"`
	GDrive    GDriveConfig `toml:"gdrive"`
}

type GDriveConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	FolderID     string `toml:"folder_id"`
}

// ArtifactsConfig controls copying finished renders into storage.
type ArtifactsConfig struct {
	Mirror   bool     `toml:"mirror"`
	MaxBytes int64    `toml:"max_bytes"`
	Timeout  Duration `toml:"timeout"`
	// Retain is how many mirrored renders stay downloadable.
	Retain int `toml:"retain"`
	// Prune deletes the stored object of a render that falls out of Retain.
	Prune bool `toml:"prune"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Source bool   `toml:"source"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:               "8080",
			CORSAllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Renderer: RendererConfig{
			BaseURL:           "http://localhost:3001",
			RequestTimeout:    Duration(30 * time.Second),
			PollInterval:      Duration(time.Second),
			BackoffBase:       Duration(time.Second),
			BackoffCap:        Duration(30 * time.Second),
			BackoffMaxRetries: 5,
			AbortTimeout:      Duration(10 * time.Second),
		},
		Redis: RedisConfig{
			EventsChannel: "edcomposer:render-events",
		},
		Storage: StorageConfig{
			Provider:  "localfs",
			LocalRoot: "./data/storage",
		},
		Artifacts: ArtifactsConfig{
			MaxBytes: 2 << 30,
			Timeout:  Duration(10 * time.Minute),
			Retain:   20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load resolves the configuration. An empty path falls back to
// EDCOMPOSER_CONFIG.
func Load(path string) (Config, error) {
	const op = "config.load"

	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, op, "read .env")
	}

	cfg := Default()

	if strings.TrimSpace(path) == "" {
		path = os.Getenv(PathEnv)
	}
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, errors.Wrap(err, op, "read config file")
		default:
			if err := toml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, errors.WrapWithCode(err, errors.CodeValidation, op, "parse config file").
					WithField("path", path)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envString("HTTP_PORT", &cfg.HTTP.Port)
	envCSV("CORS_ALLOWED_ORIGINS", &cfg.HTTP.CORSAllowedOrigins)

	envString("RENDERER_BASE_URL", &cfg.Renderer.BaseURL)
	durations := []struct {
		key string
		dst *Duration
	}{
		{"REQUEST_TIMEOUT", &cfg.Renderer.RequestTimeout},
		{"POLL_INTERVAL", &cfg.Renderer.PollInterval},
		{"BACKOFF_BASE", &cfg.Renderer.BackoffBase},
		{"BACKOFF_CAP", &cfg.Renderer.BackoffCap},
		{"ABORT_TIMEOUT", &cfg.Renderer.AbortTimeout},
		{"ARTIFACT_TIMEOUT", &cfg.Artifacts.Timeout},
	}
	for _, d := range durations {
		if err := envDuration(d.key, d.dst); err != nil {
			return err
		}
	}
	if err := envInt("BACKOFF_MAX_RETRIES", &cfg.Renderer.BackoffMaxRetries); err != nil {
		return err
	}

	envString("DATABASE_URL", &cfg.Database.URL)

	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	if err := envInt("REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}
	envString("EVENTS_CHANNEL", &cfg.Redis.EventsChannel)

	envString("STORAGE_PROVIDER", &cfg.Storage.Provider)
	envString("STORAGE_LOCAL_ROOT", &cfg.Storage.LocalRoot)
	envString("GDRIVE_CLIENT_ID", &cfg.Storage.GDrive.ClientID)
	envString("GDRIVE_CLIENT_SECRET", &cfg.Storage.GDrive.ClientSecret)
	envString("GDRIVE_REFRESH_TOKEN", &cfg.Storage.GDrive.RefreshToken)
	envString("GDRIVE_FOLDER_ID", &cfg.Storage.GDrive.FolderID)

	if err := envBool("ARTIFACT_MIRROR", &cfg.Artifacts.Mirror); err != nil {
		return err
	}
	if err := envInt("ARTIFACT_RETAIN", &cfg.Artifacts.Retain); err != nil {
		return err
	}
	if err := envBool("ARTIFACT_PRUNE", &cfg.Artifacts.Prune); err != nil {
		return err
	}

	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)
	return envBool("LOG_SOURCE", &cfg.Log.Source)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.HTTP.Port); err != nil {
		return errors.ValidationField("HTTP_PORT", "http port must be numeric")
	}

	r := c.Renderer
	if strings.TrimSpace(r.BaseURL) == "" {
		return errors.ValidationField("RENDERER_BASE_URL", "renderer base url is required")
	}
	if r.PollInterval <= 0 {
		return errors.ValidationField("POLL_INTERVAL", "poll interval must be positive")
	}
	if r.BackoffBase <= 0 {
		return errors.ValidationField("BACKOFF_BASE", "backoff base must be positive")
	}
	if r.BackoffCap < r.BackoffBase {
		return errors.ValidationField("BACKOFF_CAP", "backoff cap must not be below the base")
	}
	if r.BackoffMaxRetries < 1 {
		return errors.ValidationField("BACKOFF_MAX_RETRIES", "at least one poll attempt is required")
	}
	if r.AbortTimeout <= 0 {
		return errors.ValidationField("ABORT_TIMEOUT", "abort timeout must be positive")
	}

	if c.Artifacts.Retain < 1 {
		return errors.ValidationField("ARTIFACT_RETAIN", "at least one artifact must be retained")
	}

	switch c.Storage.Provider {
	case "localfs":
		if strings.TrimSpace(c.Storage.LocalRoot) == "" {
			return errors.ValidationField("STORAGE_LOCAL_ROOT", "local storage root is required")
		}
	case "gdrive":
		g := c.Storage.GDrive
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return errors.ValidationField("GDRIVE_REFRESH_TOKEN", "gdrive storage needs client id, secret and refresh token")
		}
	default:
		return errors.ValidationField("STORAGE_PROVIDER", "unknown storage provider: "+c.Storage.Provider)
	}
	return nil
}

// Orchestrator maps the renderer settings onto render.Config.
func (c Config) Orchestrator() render.Config {
	return render.Config{
		PollInterval: c.Renderer.PollInterval.Std(),
		Retry: render.RetryPolicy{
			Base:                 c.Renderer.BackoffBase.Std(),
			Cap:                  c.Renderer.BackoffCap.Std(),
			MaxTransientFailures: c.Renderer.BackoffMaxRetries,
		},
		AbortTimeout: c.Renderer.AbortTimeout.Std(),
	}
}

// Logger maps the log settings onto logger.Config.
func (c Config) Logger(service string) logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		AddSource:   c.Log.Source,
		ServiceName: service,
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envCSV(key string, dst *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

func envDuration(key string, dst *Duration) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var d Duration
	if err := d.UnmarshalText([]byte(v)); err != nil {
		return errors.ValidationField(key, "invalid duration "+strconv.Quote(v))
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.ValidationField(key, "invalid integer "+strconv.Quote(v))
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.ValidationField(key, "invalid boolean "+strconv.Quote(v))
	}
	*dst = b
	return nil
}
