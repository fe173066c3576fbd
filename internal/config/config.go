package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/saker-ai/audiosync/internal/lifecycle"
	"github.com/saker-ai/audiosync/internal/logger"
	"github.com/saker-ai/audiosync/pkg/resample"
	"github.com/saker-ai/audiosync/pkg/stream"
)

// Reference clock modes.
const (
	ClockWall      = "wall"
	ClockSimulated = "simulated"
)

// HTTPConfig configures the monitoring API.
type HTTPConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr        string `mapstructure:"addr" yaml:"addr"`
	TLSCertPath string `mapstructure:"tls_cert_path" yaml:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path" yaml:"tls_key_path"`
	TLSDisable  bool   `mapstructure:"tls_disable" yaml:"tls_disable"`
}

// StreamConfig tunes stream processing.
type StreamConfig struct {
	QueueSize int    `mapstructure:"queue_size" yaml:"queue_size"`
	Clock     string `mapstructure:"clock" yaml:"clock"`
	// ClockRate scales the wall clock; 1 is real time.
	ClockRate float64 `mapstructure:"clock_rate" yaml:"clock_rate"`
	// Mode is once or loop. MaxLoops caps restarts in loop mode, 0 is
	// unlimited.
	Mode     string `mapstructure:"mode" yaml:"mode"`
	MaxLoops int    `mapstructure:"max_loops" yaml:"max_loops"`
	Group    string `mapstructure:"group" yaml:"group"`
}

// MetricsConfig toggles the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// MonitorConfig configures the Opus packet monitor.
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Bitrate int  `mapstructure:"bitrate" yaml:"bitrate"`
}

// OutputConfig says where results go.
type OutputConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Report string `mapstructure:"report" yaml:"report"`
	// ReportDir keeps one YAML report per run.
	ReportDir string `mapstructure:"report_dir" yaml:"report_dir"`
}

// Config is the full application configuration.
type Config struct {
	RootDir  string          `mapstructure:"-" yaml:"-"`
	HTTP     HTTPConfig      `mapstructure:"http" yaml:"http"`
	Stream   StreamConfig    `mapstructure:"stream" yaml:"stream"`
	Resample resample.Config `mapstructure:"resample" yaml:"resample"`
	Metrics  MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Monitor  MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Output   OutputConfig    `mapstructure:"output" yaml:"output"`
	Log      logger.Config   `mapstructure:"log" yaml:"log"`
}

// Load reads audiosync.yaml from the working directory or one of its
// parents, if any, on top of the defaults and the environment.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigName("audiosync")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	return decode(v, rootDir)
}

// LoadConfig reads configPath. An empty path falls back to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("AUDIOSYNC_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
	}

	v := newViper()
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return decode(v, rootDir)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("audiosync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8101")
	v.SetDefault("http.tls_disable", true)
	v.SetDefault("http.tls_cert_path", "")
	v.SetDefault("http.tls_key_path", "")
	v.SetDefault("stream.queue_size", stream.DefaultQueueSize)
	v.SetDefault("stream.clock", ClockSimulated)
	v.SetDefault("stream.clock_rate", 1.0)
	v.SetDefault("stream.mode", string(lifecycle.ModeOnce))
	v.SetDefault("stream.max_loops", 0)
	v.SetDefault("stream.group", "main")
	v.SetDefault("resample.engine", resample.EngineLinear)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.bitrate", 64000)
	v.SetDefault("output.dir", "./data/out")
	v.SetDefault("output.report", "")
	v.SetDefault("output.report_dir", "./data/reports")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "audiosync.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	derivePaths(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) error {
	cfg.Stream.Clock = strings.ToLower(strings.TrimSpace(cfg.Stream.Clock))
	switch cfg.Stream.Clock {
	case "":
		cfg.Stream.Clock = ClockSimulated
	case ClockWall, ClockSimulated:
	default:
		return fmt.Errorf("stream.clock: unknown mode %q", cfg.Stream.Clock)
	}
	if cfg.Stream.QueueSize <= 0 {
		cfg.Stream.QueueSize = stream.DefaultQueueSize
	}
	if cfg.Stream.ClockRate <= 0 {
		cfg.Stream.ClockRate = 1
	}
	cfg.Stream.Mode = string(lifecycle.ParseMode(cfg.Stream.Mode))
	if cfg.Stream.MaxLoops < 0 {
		cfg.Stream.MaxLoops = 0
	}
	cfg.Stream.Group = strings.TrimSpace(cfg.Stream.Group)
	if cfg.Stream.Group == "" {
		cfg.Stream.Group = "main"
	}
	cfg.Resample.Engine = strings.ToLower(strings.TrimSpace(cfg.Resample.Engine))
	switch cfg.Resample.Engine {
	case "":
		cfg.Resample.Engine = resample.EngineLinear
	case resample.EngineLinear, resample.EngineSoxr:
	default:
		return fmt.Errorf("resample.engine: unknown engine %q", cfg.Resample.Engine)
	}
	if cfg.Monitor.Bitrate <= 0 {
		cfg.Monitor.Bitrate = 64000
	}
	return nil
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("AUDIOSYNC_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "audiosync.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.Output.Dir = resolvePath(cfg.RootDir, cfg.Output.Dir, filepath.Join("data", "out"))
	cfg.Output.ReportDir = resolvePath(cfg.RootDir, cfg.Output.ReportDir, filepath.Join("data", "reports"))
	if strings.TrimSpace(cfg.Output.Report) != "" {
		cfg.Output.Report = resolvePath(cfg.RootDir, cfg.Output.Report, "")
	}
	if strings.TrimSpace(cfg.HTTP.TLSCertPath) != "" {
		cfg.HTTP.TLSCertPath = resolvePath(cfg.RootDir, cfg.HTTP.TLSCertPath, "")
	}
	if strings.TrimSpace(cfg.HTTP.TLSKeyPath) != "" {
		cfg.HTTP.TLSKeyPath = resolvePath(cfg.RootDir, cfg.HTTP.TLSKeyPath, "")
	}
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
