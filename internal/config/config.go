package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/viper"

	"github.com/bmcpi/efivar/pkg/firmware"
	"github.com/bmcpi/efivar/pkg/firmware/varstore"
)

const (
	configName = "efivar"
	envPrefix  = "EFIVAR"
)

type PathConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type Config struct {
	Backend     string      `yaml:"backend"      mapstructure:"backend"`
	Efivarfs    PathConfig  `yaml:"efivarfs"     mapstructure:"efivarfs"`
	Edk2        PathConfig  `yaml:"edk2"         mapstructure:"edk2"`
	JSON        PathConfig  `yaml:"json"         mapstructure:"json"`
	DefaultMode string      `yaml:"default_mode" mapstructure:"default_mode"`
	LogLevel    string      `yaml:"log_level"    mapstructure:"log_level"`
	LogFormat   string      `yaml:"log_format"   mapstructure:"log_format"`
	Log         logr.Logger `yaml:"-"            mapstructure:"-"`

	mu sync.RWMutex
}

// Mode parses DefaultMode as an octal permission.
func (c *Config) Mode() (os.FileMode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, err := strconv.ParseUint(strings.TrimPrefix(c.DefaultMode, "0o"), 8, 32)
	if err != nil || m > 0o777 {
		return 0, fmt.Errorf("config: invalid default_mode %q", c.DefaultMode)
	}
	return os.FileMode(m), nil
}

// FirmwareOptions returns the backend selection for firmware.NewBackend.
func (c *Config) FirmwareOptions() firmware.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return firmware.Options{
		Backend:      c.Backend,
		EfivarfsPath: c.Efivarfs.Path,
		Edk2Path:     c.Edk2.Path,
		JSONPath:     c.JSON.Path,
	}
}

// SetLogLevel rebuilds the logger at level.
func (c *Config) SetLogLevel(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogLevel = level
	c.Log = defaultLogger(c.LogLevel, c.LogFormat)
}

func (c *Config) validate() error {
	if !slices.Contains(firmware.Backends, c.Backend) {
		return fmt.Errorf("config: unknown backend %q, want one of %v", c.Backend, firmware.Backends)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// NewConfig loads configuration from configFile, or from efivar.yaml in the
// usual places when configFile is empty. A missing default file is not an
// error. Every key can be overridden with an EFIVAR_ environment variable,
// e.g. EFIVAR_EDK2_PATH.
func NewConfig(configFile string) (conf *Config, err error) {
	conf = &Config{}
	v := viper.New()

	v.SetDefault("backend", firmware.BackendEfivarfs)
	v.SetDefault("efivarfs.path", varstore.DefaultEfivarfsPath)
	v.SetDefault("edk2.path", "")
	v.SetDefault("json.path", "")
	v.SetDefault("default_mode", "0644")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc/efivar/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "efivar"))
		}
		v.AddConfigPath(".")
	}

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: unable to read config file: %w", err)
		}
		found = false
	}

	for _, key := range v.AllKeys() {
		envKey := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey); err != nil {
			return nil, fmt.Errorf("config: unable to bind env: %w", err)
		}
	}

	if err := loadConfig(v, conf); err != nil {
		return nil, err
	}
	conf.Log = defaultLogger(conf.LogLevel, conf.LogFormat)

	if found {
		v.OnConfigChange(func(_ fsnotify.Event) {
			if err := loadConfig(v, conf); err != nil {
				conf.Log.Error(err, "config: reload failed, keeping previous settings")
			}
		})
		v.WatchConfig()
	}

	return conf, nil
}

func loadConfig(v *viper.Viper, conf *Config) error {
	next := &Config{}
	if err := v.Unmarshal(next); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := next.validate(); err != nil {
		return err
	}

	conf.mu.Lock()
	defer conf.mu.Unlock()
	conf.Backend = next.Backend
	conf.Efivarfs = next.Efivarfs
	conf.Edk2 = next.Edk2
	conf.JSON = next.JSON
	conf.DefaultMode = next.DefaultMode
	conf.LogLevel = next.LogLevel
	conf.LogFormat = next.LogFormat
	return nil
}

// defaultLogger uses the slog logr implementation, or stdr for the text
// format. Logs go to stderr so command output stays clean.
func defaultLogger(level, format string) logr.Logger {
	if format == "text" {
		if level == "debug" {
			stdr.SetVerbosity(1)
		}
		return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
	}

	// source file and function can be long. This makes the logs less readable.
	// truncate source file and function to last 3 parts for improved readability.
	customAttr := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			ss, ok := a.Value.Any().(*slog.Source)
			if !ok || ss == nil {
				return a
			}
			f := strings.Split(ss.Function, "/")
			if len(f) > 3 {
				ss.Function = filepath.Join(f[len(f)-3:]...)
			}
			p := strings.Split(ss.File, "/")
			if len(p) > 3 {
				ss.File = filepath.Join(p[len(p)-3:]...)
			}
		}
		return a
	}
	opts := &slog.HandlerOptions{AddSource: true, ReplaceAttr: customAttr}
	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		opts.Level = slog.LevelInfo
	}
	l := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	return logr.FromSlogHandler(l.Handler())
}
