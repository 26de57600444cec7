package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Backend BackendConfig `mapstructure:"backend"`
	Local   LocalConfig   `mapstructure:"local"`
	Remote  RemoteConfig  `mapstructure:"remote"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Service string `mapstructure:"service"`
}

// FetchConfig controls image downloads. InsecureSkipVerify only affects the
// fetcher's own transport.
type FetchConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	MaxBytes           int64         `mapstructure:"max_bytes"`
	UserAgent          string        `mapstructure:"user_agent"`
}

type BackendConfig struct {
	Kind string `mapstructure:"kind"`
}

type LocalConfig struct {
	ModelPath   string `mapstructure:"model_path"`
	LibraryPath string `mapstructure:"library_path"`
	LabelsPath  string `mapstructure:"labels_path"`
	LabelsURL   string `mapstructure:"labels_url"`
	InputName   string `mapstructure:"input_name"`
	OutputName  string `mapstructure:"output_name"`
	NumClasses  int    `mapstructure:"num_classes"`
	// MaxPixels caps width*height of a decoded image.
	MaxPixels int `mapstructure:"max_pixels"`
}

type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	ModelID string        `mapstructure:"model_id"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads defaults, an optional config.yaml and TAGGER_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if path := os.Getenv("TAGGER_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("TAGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("remote.token", "TAGGER_REMOTE_TOKEN", "HF_TOKEN")
	_ = v.BindEnv("server.port", "TAGGER_SERVER_PORT", "PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service", "tagging-api")

	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.insecure_skip_verify", false)
	v.SetDefault("fetch.max_bytes", 20<<20)
	v.SetDefault("fetch.user_agent", "tagging-api/1.0")

	v.SetDefault("backend.kind", BackendLocal)

	v.SetDefault("local.model_path", "models/resnet50.onnx")
	v.SetDefault("local.library_path", "")
	v.SetDefault("local.labels_path", "models/imagenet_classes.txt")
	v.SetDefault("local.labels_url", "https://raw.githubusercontent.com/pytorch/hub/master/imagenet_classes.txt")
	v.SetDefault("local.input_name", "input")
	v.SetDefault("local.output_name", "output")
	v.SetDefault("local.num_classes", 1000)
	v.SetDefault("local.max_pixels", 40_000_000)

	v.SetDefault("remote.base_url", "https://api-inference.huggingface.co/models")
	v.SetDefault("remote.model_id", "google/vit-base-patch16-224")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 60*time.Second)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Backend.Kind {
	case BackendLocal:
		if c.Local.NumClasses <= 0 {
			return fmt.Errorf("invalid local.num_classes %d", c.Local.NumClasses)
		}
		if c.Local.MaxPixels < 0 {
			return fmt.Errorf("invalid local.max_pixels %d", c.Local.MaxPixels)
		}
	case BackendRemote:
		if c.Remote.BaseURL == "" || c.Remote.ModelID == "" {
			return errors.New("remote.base_url and remote.model_id are required")
		}
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("invalid fetch.timeout %s", c.Fetch.Timeout)
	}
	return nil
}
