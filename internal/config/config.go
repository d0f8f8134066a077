package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trader"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "bitget")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("signal.base_url", "https://api.openai.com/v1")
	v.SetDefault("signal.model", "gpt-4.1-mini")
	v.SetDefault("signal.timeout", "15s")

	v.SetDefault("risk.margin_tiers", []map[string]interface{}{
		{"min_balance": 0.0, "fraction": 0.15},
		{"min_balance": 1000.0, "fraction": 0.10},
		{"min_balance": 10000.0, "fraction": 0.05},
	})
	v.SetDefault("risk.loss_cap_fraction", 0.50)
	v.SetDefault("risk.risk_scalar", 1.0)
	v.SetDefault("risk.safety_multiplier", 1.1)
	v.SetDefault("risk.max_leverage", 50)
	v.SetDefault("risk.market_deviation", 0.005)
	v.SetDefault("risk.abort_deviation", 0.010)
	v.SetDefault("risk.fee_buffer", 0.001)
	v.SetDefault("risk.breakeven_trigger_r", 0.5)

	v.SetDefault("execution.dry_run", false)

	v.SetDefault("reconcile.poll_interval", "60s")
	v.SetDefault("reconcile.drift_threshold", 0.001)
	v.SetDefault("reconcile.history_limit", 5)

	v.SetDefault("status.interval", "30m")
	v.SetDefault("status.recent_trades", 10)

	v.SetDefault("database.path", "data/trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8787)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
