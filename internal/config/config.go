package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "AF"
	configName = "config"
	configType = "toml"
	appDir     = "agentforge"
)

const (
	KeyAPIBaseURL        = "api.base_url"
	KeyAPIPipelinePath   = "api.pipeline_path"
	KeyAPIRefinePath     = "api.refine_path"
	KeyAPISavePath       = "api.save_path"
	KeyAPITokenRef       = "api.token_ref"
	KeyAPIRequestTimeout = "api.request_timeout"
	KeyStreamMinDwell    = "stream.min_dwell"
	KeyStreamGracePeriod = "stream.grace_period"
	KeyStreamReadBuffer  = "stream.read_buffer"
	KeyStreamMaxLine     = "stream.max_line_bytes"
	KeyLogLevel          = "log.level"
	KeyLogFile           = "log.file"
	KeyTraceFile         = "trace.file"
	KeySecretsDir        = "secrets.dir"
)

const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultPipelinePath   = "/api/pipeline/stream"
	DefaultRefinePath     = "/api/refine/stream"
	DefaultSavePath       = "/api/runs"
	DefaultTokenRef       = "agentforge/api_token"
	DefaultRequestTimeout = 30 * time.Second
	DefaultMinDwell       = 800 * time.Millisecond
	DefaultGracePeriod    = 1500 * time.Millisecond
	DefaultReadBuffer     = 4 << 10
	DefaultMaxLineBytes   = 16 << 20
	DefaultLogLevel       = "info"
)

type Config struct {
	API    API
	Stream Stream
	Log    Log
	Trace  Trace
	// SecretsDir holds file-backed credentials.
	SecretsDir string
}

type API struct {
	BaseURL        string
	PipelinePath   string
	RefinePath     string
	SavePath       string
	TokenRef       string
	RequestTimeout time.Duration
}

type Stream struct {
	MinDwell     time.Duration
	GracePeriod  time.Duration
	ReadBuffer   int
	MaxLineBytes int
}

type Log struct {
	Level string
	File  string
}

type Trace struct {
	File string
}

// New builds the viper instance shared by every component. An explicit
// configFile must exist; the default file is optional.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	if err := SetDefaults(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
		return v, nil
	}

	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return v, nil
}

func SetDefaults(v *viper.Viper) error {
	logFile, err := DefaultLogFile()
	if err != nil {
		return err
	}
	secretsDir, err := DefaultSecretsDir()
	if err != nil {
		return err
	}

	v.SetDefault(KeyAPIBaseURL, DefaultBaseURL)
	v.SetDefault(KeyAPIPipelinePath, DefaultPipelinePath)
	v.SetDefault(KeyAPIRefinePath, DefaultRefinePath)
	v.SetDefault(KeyAPISavePath, DefaultSavePath)
	v.SetDefault(KeyAPITokenRef, DefaultTokenRef)
	v.SetDefault(KeyAPIRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(KeyStreamMinDwell, DefaultMinDwell)
	v.SetDefault(KeyStreamGracePeriod, DefaultGracePeriod)
	v.SetDefault(KeyStreamReadBuffer, DefaultReadBuffer)
	v.SetDefault(KeyStreamMaxLine, DefaultMaxLineBytes)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFile, logFile)
	v.SetDefault(KeyTraceFile, "")
	v.SetDefault(KeySecretsDir, secretsDir)

	return nil
}

// Load reads and validates the settings used by the stream client.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		API: API{
			BaseURL:        strings.TrimRight(strings.TrimSpace(v.GetString(KeyAPIBaseURL)), "/"),
			PipelinePath:   v.GetString(KeyAPIPipelinePath),
			RefinePath:     v.GetString(KeyAPIRefinePath),
			SavePath:       v.GetString(KeyAPISavePath),
			TokenRef:       strings.TrimSpace(v.GetString(KeyAPITokenRef)),
			RequestTimeout: v.GetDuration(KeyAPIRequestTimeout),
		},
		Stream: Stream{
			MinDwell:     v.GetDuration(KeyStreamMinDwell),
			GracePeriod:  v.GetDuration(KeyStreamGracePeriod),
			ReadBuffer:   v.GetInt(KeyStreamReadBuffer),
			MaxLineBytes: v.GetInt(KeyStreamMaxLine),
		},
		Log: Log{
			Level: v.GetString(KeyLogLevel),
			File:  v.GetString(KeyLogFile),
		},
		Trace:      Trace{File: v.GetString(KeyTraceFile)},
		SecretsDir: v.GetString(KeySecretsDir),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", KeyAPIBaseURL, c.API.BaseURL))
	}
	for key, path := range map[string]string{
		KeyAPIPipelinePath: c.API.PipelinePath,
		KeyAPIRefinePath:   c.API.RefinePath,
		KeyAPISavePath:     c.API.SavePath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, fmt.Errorf("%s must start with /, got %q", key, path))
		}
	}
	if c.API.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyAPIRequestTimeout))
	}
	if c.Stream.MinDwell < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyStreamMinDwell))
	}
	if c.Stream.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyStreamGracePeriod))
	}
	if c.Stream.ReadBuffer <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyStreamReadBuffer))
	}
	if c.Stream.MaxLineBytes < c.Stream.ReadBuffer {
		errs = append(errs, fmt.Errorf("%s must be at least %s", KeyStreamMaxLine, KeyStreamReadBuffer))
	}
	if c.SecretsDir == "" {
		errs = append(errs, fmt.Errorf("%s is empty", KeySecretsDir))
	}

	return errors.Join(errs...)
}

// Dir is $XDG_CONFIG_HOME/agentforge, falling back to ~/.config/agentforge.
func Dir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultLogFile is $XDG_STATE_HOME/agentforge/af.log.
func DefaultLogFile() (string, error) {
	dir, err := xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "af.log"), nil
}

// DefaultSecretsDir is where file-backed credentials live.
func DefaultSecretsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "secrets"), nil
}

func xdgDir(env string, fallback string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appDir), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, fallback, appDir), nil
}
