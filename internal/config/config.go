// ABOUTME: Configuration loading: defaults, YAML file, environment, CLI flags
// ABOUTME: Precedence is CLI over env over file over defaults
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the renderer's whole configuration surface.
type Config struct {
	Qobuz struct {
		Email      string `yaml:"email"`
		Password   string `yaml:"password"`
		AppID      string `yaml:"app_id"`
		AppSecret  string `yaml:"app_secret"`
		MaxQuality int    `yaml:"max_quality"` // 0 = auto-detect
	} `yaml:"qobuz"`

	Device struct {
		Name string `yaml:"name"`
		UUID string `yaml:"uuid"`
	} `yaml:"device"`

	Backend struct {
		Type string `yaml:"type"` // dlna | local
		DLNA struct {
			IP          string `yaml:"ip"`
			Port        int    `yaml:"port"`
			FixedVolume bool   `yaml:"fixed_volume"`
		} `yaml:"dlna"`
		Local struct {
			Device     string `yaml:"device"`
			BufferSize int    `yaml:"buffer_size"`
		} `yaml:"local"`
	} `yaml:"backend"`

	Server struct {
		HTTPPort    int    `yaml:"http_port"`
		ProxyPort   int    `yaml:"proxy_port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func defaults() *Config {
	c := &Config{}
	c.Device.Name = "QBZ Renderer"
	c.Backend.Type = "local"
	c.Backend.DLNA.Port = 1400
	c.Backend.Local.Device = "default"
	c.Backend.Local.BufferSize = 2048
	c.Server.HTTPPort = 8689
	c.Server.ProxyPort = 7120
	c.Server.BindAddress = "0.0.0.0"
	c.Logging.Level = "info"
	return c
}

// Load assembles the configuration from all four layers and validates
// it. args are the raw CLI arguments (without the program name).
func Load(args []string) (*Config, error) {
	c := defaults()

	fs := pflag.NewFlagSet("qbz-renderer", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	email := fs.String("email", "", "vendor account email")
	password := fs.String("password", "", "vendor account password")
	maxQuality := fs.String("max-quality", "", "max audio quality (auto, 5, 6, 7, 27)")
	deviceName := fs.String("device-name", "", "controller-facing friendly name")
	backendType := fs.String("backend", "", "audio backend (dlna or local)")
	dlnaIP := fs.String("dlna-ip", "", "DLNA renderer IP")
	dlnaPort := fs.Int("dlna-port", 0, "DLNA renderer port")
	fixedVolume := fs.Bool("dlna-fixed-volume", false, "ignore volume commands")
	localDevice := fs.String("local-device", "", "local output device")
	httpPort := fs.Int("http-port", 0, "discovery endpoint port")
	proxyPort := fs.Int("proxy-port", 0, "audio proxy port")
	bindAddress := fs.String("bind-address", "", "listen address")
	logLevel := fs.String("log-level", "", "log level (debug, info, warning, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", *configPath, err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", *configPath, err)
		}
	}

	applyEnv(c)

	// CLI flags win over everything.
	setString(&c.Qobuz.Email, *email)
	setString(&c.Qobuz.Password, *password)
	if *maxQuality != "" {
		q, err := parseMaxQuality(*maxQuality)
		if err != nil {
			return nil, err
		}
		c.Qobuz.MaxQuality = q
	}
	setString(&c.Device.Name, *deviceName)
	setString(&c.Backend.Type, *backendType)
	setString(&c.Backend.DLNA.IP, *dlnaIP)
	setInt(&c.Backend.DLNA.Port, *dlnaPort)
	if fs.Changed("dlna-fixed-volume") {
		c.Backend.DLNA.FixedVolume = *fixedVolume
	}
	setString(&c.Backend.Local.Device, *localDevice)
	setInt(&c.Server.HTTPPort, *httpPort)
	setInt(&c.Server.ProxyPort, *proxyPort)
	setString(&c.Server.BindAddress, *bindAddress)
	setString(&c.Logging.Level, *logLevel)

	if c.Device.UUID == "" {
		c.Device.UUID = uuid.NewString()
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config) {
	envString(&c.Qobuz.Email, "QOBUZ_EMAIL")
	envString(&c.Qobuz.Password, "QOBUZ_PASSWORD")
	if v := os.Getenv("QOBUZ_MAX_QUALITY"); v != "" {
		if q, err := parseMaxQuality(v); err == nil {
			c.Qobuz.MaxQuality = q
		}
	}
	envString(&c.Device.Name, "QOBUZPROXY_DEVICE_NAME")
	envString(&c.Backend.DLNA.IP, "QOBUZPROXY_DLNA_IP")
	envInt(&c.Backend.DLNA.Port, "QOBUZPROXY_DLNA_PORT")
	if v := os.Getenv("QOBUZPROXY_DLNA_FIXED_VOLUME"); v != "" {
		c.Backend.DLNA.FixedVolume = v == "1" || strings.EqualFold(v, "true")
	}
	envInt(&c.Server.HTTPPort, "QOBUZPROXY_HTTP_PORT")
	envInt(&c.Server.ProxyPort, "QOBUZPROXY_PROXY_PORT")
	envString(&c.Logging.Level, "QOBUZPROXY_LOG_LEVEL")
}

func parseMaxQuality(v string) (int, error) {
	if strings.EqualFold(v, "auto") {
		return 0, nil
	}
	q, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: bad max quality %q", v)
	}
	return q, nil
}

func (c *Config) validate() error {
	if c.Qobuz.Email == "" || c.Qobuz.Password == "" {
		return fmt.Errorf("config: qobuz.email and qobuz.password are required")
	}
	switch c.Qobuz.MaxQuality {
	case 0, 5, 6, 7, 27:
	default:
		return fmt.Errorf("config: qobuz.max_quality must be one of 0, 5, 6, 7, 27")
	}
	switch c.Backend.Type {
	case "dlna":
		if c.Backend.DLNA.IP == "" {
			return fmt.Errorf("config: backend.dlna.ip is required for the dlna backend")
		}
	case "local":
		if b := c.Backend.Local.BufferSize; b < 64 || b > 16384 {
			return fmt.Errorf("config: backend.local.buffer_size must be within [64, 16384]")
		}
	default:
		return fmt.Errorf("config: backend.type must be dlna or local")
	}
	switch c.Logging.Level {
	case "debug", "info", "warning", "error":
	default:
		return fmt.Errorf("config: logging.level must be debug, info, warning or error")
	}
	return nil
}

// SlogLevel maps the configured level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
