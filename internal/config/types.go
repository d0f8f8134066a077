package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Status    StatusConfig    `mapstructure:"status"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SignalConfig 描述信号解析所需的大模型调用参数。
// ChannelID 仅用于标记信号来源，不参与任何传输逻辑。
type SignalConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ChannelID string        `mapstructure:"channel_id"`
}

// MarginTier 描述分级保证金规则：余额达到 MinBalance 后按 Fraction 计算单笔保证金。
type MarginTier struct {
	MinBalance float64 `mapstructure:"min_balance"`
	Fraction   float64 `mapstructure:"fraction"`
}

// RiskConfig 管理风控与仓位计算参数。
type RiskConfig struct {
	MarginTiers       []MarginTier `mapstructure:"margin_tiers"`
	LossCapFraction   float64      `mapstructure:"loss_cap_fraction"`
	RiskScalar        float64      `mapstructure:"risk_scalar"`
	SafetyMultiplier  float64      `mapstructure:"safety_multiplier"`
	MaxLeverage       int          `mapstructure:"max_leverage"`
	MarketDeviation   float64      `mapstructure:"market_deviation"`
	AbortDeviation    float64      `mapstructure:"abort_deviation"`
	FeeBuffer         float64      `mapstructure:"fee_buffer"`
	BreakevenTriggerR float64      `mapstructure:"breakeven_trigger_r"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	DryRun bool `mapstructure:"dry_run"`
}

// ReconcileConfig 控制对账循环节奏与阈值。
type ReconcileConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	DriftThreshold float64       `mapstructure:"drift_threshold"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

// StatusConfig 控制状态播报。
type StatusConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	RecentTrades int           `mapstructure:"recent_trades"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Signal.APIKey == "" {
		err = multierr.Append(err, errors.New("signal.api_key 不能为空"))
	}
	if c.Signal.Model == "" {
		err = multierr.Append(err, errors.New("signal.model 不能为空"))
	}
	if c.Signal.Timeout <= 0 {
		err = multierr.Append(err, errors.New("signal.timeout 必须大于0"))
	}
	if len(c.Risk.MarginTiers) == 0 {
		err = multierr.Append(err, errors.New("risk.margin_tiers 至少包含一档"))
	}
	prevBalance := -1.0
	prevFraction := 1.1
	for i, tier := range c.Risk.MarginTiers {
		if tier.Fraction <= 0 || tier.Fraction > 1 {
			err = multierr.Append(err, fmt.Errorf("risk.margin_tiers[%d].fraction 必须位于(0,1]", i))
		}
		if tier.MinBalance < 0 {
			err = multierr.Append(err, fmt.Errorf("risk.margin_tiers[%d].min_balance 不能为负", i))
		}
		if tier.MinBalance <= prevBalance {
			err = multierr.Append(err, errors.New("risk.margin_tiers 必须按 min_balance 递增排列"))
		}
		if tier.Fraction > prevFraction {
			err = multierr.Append(err, errors.New("risk.margin_tiers 的 fraction 必须随余额递增而不增"))
		}
		prevBalance = tier.MinBalance
		prevFraction = tier.Fraction
	}
	if c.Risk.LossCapFraction <= 0 || c.Risk.LossCapFraction > 1 {
		err = multierr.Append(err, errors.New("risk.loss_cap_fraction 必须位于(0,1]"))
	}
	if c.Risk.RiskScalar <= 0 {
		err = multierr.Append(err, errors.New("risk.risk_scalar 必须大于0"))
	}
	if c.Risk.SafetyMultiplier <= 1 {
		err = multierr.Append(err, errors.New("risk.safety_multiplier 必须大于1"))
	}
	if c.Risk.MaxLeverage < 1 {
		err = multierr.Append(err, errors.New("risk.max_leverage 必须大于等于1"))
	}
	if c.Risk.MarketDeviation <= 0 || c.Risk.AbortDeviation <= c.Risk.MarketDeviation {
		err = multierr.Append(err, errors.New("risk.abort_deviation 必须大于 market_deviation 且均为正"))
	}
	if c.Risk.FeeBuffer < 0 || c.Risk.FeeBuffer > 0.05 {
		err = multierr.Append(err, errors.New("risk.fee_buffer 应位于[0,0.05]"))
	}
	if c.Risk.BreakevenTriggerR <= 0 {
		err = multierr.Append(err, errors.New("risk.breakeven_trigger_r 必须大于0"))
	}
	if c.Reconcile.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("reconcile.poll_interval 必须大于0"))
	}
	if c.Reconcile.DriftThreshold <= 0 {
		err = multierr.Append(err, errors.New("reconcile.drift_threshold 必须大于0"))
	}
	if c.Reconcile.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("reconcile.history_limit 必须大于0"))
	}
	if c.Status.Interval <= 0 {
		err = multierr.Append(err, errors.New("status.interval 必须大于0"))
	}
	if c.Status.RecentTrades <= 0 {
		err = multierr.Append(err, errors.New("status.recent_trades 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
