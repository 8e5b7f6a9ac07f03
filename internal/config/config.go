package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath 指定配置文件路径，优先级低于命令行 --config。
const EnvConfigPath = "KLINECAST_CONFIG"

// 默认值常量
const (
	defaultLogLevel         = "info"
	defaultHTTPAddr         = ":8787"
	defaultDataRoot         = "data/cache"
	defaultRunDBPath        = "data/runs.db"
	defaultYahooBaseURL     = "https://query1.finance.yahoo.com"
	defaultEastmoneyBaseURL = "https://push2his.eastmoney.com"
	defaultTimeoutSeconds   = 20
	defaultRateLimitPerMin  = 240
	defaultPythonBinary     = "python3"
	defaultHorizon          = 30
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Data     DataConfig     `yaml:"data"`
	Provider ProviderConfig `yaml:"provider"`
	Kronos   KronosConfig   `yaml:"kronos"`
}

type AppConfig struct {
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`
	HTTPAddr string `yaml:"http_addr"`
}

type DataConfig struct {
	Root      string `yaml:"root"`       // 行情缓存根目录
	RunDBPath string `yaml:"run_db"`     // 预测运行记录 sqlite 文件
	RunLog    bool   `yaml:"run_log"`    // 是否记录预测运行
	ExportDir string `yaml:"export_dir"` // CSV/HTML 导出目录，空则当前目录
}

type ProviderConfig struct {
	YahooBaseURL     string `yaml:"yahoo_base_url"`
	EastmoneyBaseURL string `yaml:"eastmoney_base_url"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	RateLimitPerMin  int    `yaml:"rate_limit_per_min"`
}

type KronosConfig struct {
	Variant     string `yaml:"variant"`
	RepoPath    string `yaml:"repo_path"`
	Python      string `yaml:"python"`
	PresetsPath string `yaml:"presets_path"` // 变体预设覆盖文件，可为空
	Device      string `yaml:"device"`
	Horizon     int    `yaml:"horizon"`
}

// Load 读取并校验配置。path 为空时依次尝试 KLINECAST_CONFIG 环境变量
// 与 configs/config.yaml；都不存在则返回纯默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		if _, err := os.Stat("configs/config.yaml"); err == nil {
			path = "configs/config.yaml"
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	applyDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败 (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", defaultLogLevel)
	v.SetDefault("app.http_addr", defaultHTTPAddr)
	v.SetDefault("data.root", defaultDataRoot)
	v.SetDefault("data.run_db", defaultRunDBPath)
	v.SetDefault("data.run_log", true)
	v.SetDefault("provider.yahoo_base_url", defaultYahooBaseURL)
	v.SetDefault("provider.eastmoney_base_url", defaultEastmoneyBaseURL)
	v.SetDefault("provider.timeout_seconds", defaultTimeoutSeconds)
	v.SetDefault("provider.rate_limit_per_min", defaultRateLimitPerMin)
	v.SetDefault("kronos.python", defaultPythonBinary)
	v.SetDefault("kronos.horizon", defaultHorizon)
}

func validate(c *Config) error {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level 无效: %s", c.App.LogLevel)
	}
	if strings.TrimSpace(c.Data.Root) == "" {
		return fmt.Errorf("data.root 不能为空")
	}
	if c.Data.RunLog && strings.TrimSpace(c.Data.RunDBPath) == "" {
		return fmt.Errorf("data.run_db 不能为空")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds 必须 > 0")
	}
	if c.Provider.RateLimitPerMin <= 0 {
		return fmt.Errorf("provider.rate_limit_per_min 必须 > 0")
	}
	if c.Kronos.Horizon <= 0 {
		return fmt.Errorf("kronos.horizon 必须 > 0")
	}
	return nil
}
