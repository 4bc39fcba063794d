package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RunMode gates how the execution engine is allowed to touch the exchange.
type RunMode string

const (
	ModePaper   RunMode = "paper"
	ModeTestnet RunMode = "testnet"
	ModeLive    RunMode = "live"
)

// LoopCadences holds the tick interval for each cooperative loop named in
// the orchestrator's loop catalogue.
type LoopCadences struct {
	Universe        time.Duration `mapstructure:"universe"`
	UniverseRetry   time.Duration `mapstructure:"universe_retry"`
	News            time.Duration `mapstructure:"news"`
	Strategy        time.Duration `mapstructure:"strategy"`
	Reconciliation  time.Duration `mapstructure:"reconciliation"`
	Watchdog        time.Duration `mapstructure:"watchdog"`
	Telemetry       time.Duration `mapstructure:"telemetry"`
	Trailing        time.Duration `mapstructure:"trailing"`
	EntryTimeout    time.Duration `mapstructure:"entry_timeout"`
	TimeSyncSeconds time.Duration `mapstructure:"time_sync_interval"`
}

// RiskLimits mirrors the risk engine's hard-limit inputs.
type RiskLimits struct {
	MaxPositions       int     `mapstructure:"max_positions"`
	RiskPerTradePct    float64 `mapstructure:"risk_per_trade_pct"`
	MaxLeverage        float64 `mapstructure:"max_leverage"`
	MaxFundingRatePct  float64 `mapstructure:"max_funding_rate_pct"`
	MaxDrawdownPct     float64 `mapstructure:"max_drawdown_pct"`
	MaxConsecutiveLoss int     `mapstructure:"max_consecutive_losses"`
	MaxDailyLossPct    float64 `mapstructure:"max_daily_loss_pct"`
	MinStopATR         float64 `mapstructure:"min_stop_atr"`
	MaxStopATR         float64 `mapstructure:"max_stop_atr"`
	CooldownSeconds    int     `mapstructure:"cooldown_seconds"`
}

// MicrostructureLimits mirrors the pre-trade spread/slippage gate.
type MicrostructureLimits struct {
	DynamicThresholds bool    `mapstructure:"dynamic_thresholds"`
	MaxSpreadPct      float64 `mapstructure:"max_spread_pct"`
	CalmSpreadPct     float64 `mapstructure:"calm_spread_pct"`
	NormalSpreadPct   float64 `mapstructure:"normal_spread_pct"`
	VolatileSpreadPct float64 `mapstructure:"volatile_spread_pct"`
	MaxSlippagePct    float64 `mapstructure:"max_slippage_pct"`
}

// ExecutionSettings mirrors the execution engine's lifecycle knobs.
type ExecutionSettings struct {
	RetryAttempts       int     `mapstructure:"retry_attempts"`
	EntryTimeoutMode    string  `mapstructure:"entry_timeout_mode"` // fixed|timeframe|unlimited
	EntryTimeoutSeconds int     `mapstructure:"entry_timeout_seconds"`
	EntryMaxDurationSec int     `mapstructure:"entry_max_duration_seconds"`
	EntryTimeoutAction  string  `mapstructure:"entry_timeout_action"` // cancel|convert_market|convert_stop
	TrailingStartATR    float64 `mapstructure:"trailing_start_atr"`
	TrailingDistanceATR float64 `mapstructure:"trailing_distance_atr"`
	TakeProfitATR       float64 `mapstructure:"take_profit_atr"`
	TakeProfitFraction  float64 `mapstructure:"take_profit_fraction"`
}

// RegimeThresholds mirrors the regime classifier's ADX/Choppiness cutoffs.
type RegimeThresholds struct {
	ADXTrending  float64 `mapstructure:"adx_trending"`
	ADXRanging   float64 `mapstructure:"adx_ranging"`
	ChopTrending float64 `mapstructure:"chop_trending"`
	ChopRanging  float64 `mapstructure:"chop_ranging"`
}

// ScoringWeights mirrors the scoring engine's per-factor weights and gate.
type ScoringWeights struct {
	TrendAlignment    float64 `mapstructure:"trend_alignment"`
	VolatilityFit     float64 `mapstructure:"volatility_fit"`
	EntryQuality      float64 `mapstructure:"entry_quality"`
	FundingPenalty    float64 `mapstructure:"funding_penalty"`
	NewsModifier      float64 `mapstructure:"news_modifier"`
	Liquidity         float64 `mapstructure:"liquidity"`
	Crowding          float64 `mapstructure:"crowding"`
	FundingVolatility float64 `mapstructure:"funding_volatility"`
	OIExpansion       float64 `mapstructure:"oi_expansion"`
	TakerImbalance    float64 `mapstructure:"taker_imbalance"`
	VolumeRatio       float64 `mapstructure:"volume_ratio"`
	Threshold         float64 `mapstructure:"threshold"`
}

// PathSettings names the ledger/pending-store/log file locations.
type PathSettings struct {
	DataDir         string `mapstructure:"data_dir"`
	LedgerFile      string `mapstructure:"ledger_file"`
	SequenceFile    string `mapstructure:"sequence_file"`
	PendingFile     string `mapstructure:"pending_file"`
	TradeLogCSV     string `mapstructure:"trade_log_csv"`
	OrderLogCSV     string `mapstructure:"order_log_csv"`
	ThinkingLogJSON string `mapstructure:"thinking_log_json"`
	LockFile        string `mapstructure:"lock_file"`
}

// Config is the orchestrator-level configuration, loaded from YAML with
// POC_-prefixed environment overrides.
type Config struct {
	RunMode            RunMode              `mapstructure:"run_mode"`
	EnableTrading      bool                 `mapstructure:"enable_trading"`
	LiveConfirmToken   string               `mapstructure:"live_confirm_token"`
	Universe           []string             `mapstructure:"universe"`
	Loops              LoopCadences         `mapstructure:"loops"`
	Risk               RiskLimits           `mapstructure:"risk"`
	Microstructure     MicrostructureLimits `mapstructure:"microstructure"`
	Execution          ExecutionSettings    `mapstructure:"execution"`
	Regime             RegimeThresholds     `mapstructure:"regime"`
	Scoring            ScoringWeights       `mapstructure:"scoring"`
	Paths              PathSettings         `mapstructure:"paths"`
	OperatorListenAddr string               `mapstructure:"operator_listen_addr"`
	MetricsListenAddr  string               `mapstructure:"metrics_listen_addr"`
	FundingMarkSource  string               `mapstructure:"funding_mark_source"` // "settlement" | "bar_close"
}

func defaults(v *viper.Viper) {
	v.SetDefault("run_mode", string(ModePaper))
	v.SetDefault("enable_trading", false)

	v.SetDefault("loops.universe", 24*time.Hour)
	v.SetDefault("loops.universe_retry", 5*time.Minute)
	v.SetDefault("loops.news", 15*time.Minute)
	v.SetDefault("loops.strategy", 15*time.Minute)
	v.SetDefault("loops.reconciliation", 30*time.Minute)
	v.SetDefault("loops.watchdog", 5*time.Minute)
	v.SetDefault("loops.telemetry", 5*time.Minute)
	v.SetDefault("loops.trailing", time.Minute)
	v.SetDefault("loops.entry_timeout", time.Minute)
	v.SetDefault("loops.time_sync_interval", 10*time.Minute)

	v.SetDefault("risk.max_positions", 5)
	v.SetDefault("risk.risk_per_trade_pct", 0.01)
	v.SetDefault("risk.max_leverage", 10.0)
	v.SetDefault("risk.max_funding_rate_pct", 0.0075)
	v.SetDefault("risk.max_drawdown_pct", 0.20)
	v.SetDefault("risk.max_consecutive_losses", 5)
	v.SetDefault("risk.max_daily_loss_pct", 0.05)
	v.SetDefault("risk.min_stop_atr", 0.5)
	v.SetDefault("risk.max_stop_atr", 4.0)
	v.SetDefault("risk.cooldown_seconds", 900)

	v.SetDefault("microstructure.dynamic_thresholds", true)
	v.SetDefault("microstructure.max_spread_pct", 0.15)
	v.SetDefault("microstructure.calm_spread_pct", 0.05)
	v.SetDefault("microstructure.normal_spread_pct", 0.10)
	v.SetDefault("microstructure.volatile_spread_pct", 0.25)
	v.SetDefault("microstructure.max_slippage_pct", 0.20)

	v.SetDefault("execution.retry_attempts", 3)
	v.SetDefault("execution.entry_timeout_mode", "timeframe")
	v.SetDefault("execution.entry_timeout_seconds", 300)
	v.SetDefault("execution.entry_max_duration_seconds", 3600)
	v.SetDefault("execution.entry_timeout_action", "cancel")
	v.SetDefault("execution.trailing_start_atr", 1.0)
	v.SetDefault("execution.trailing_distance_atr", 1.5)
	v.SetDefault("execution.take_profit_atr", 2.0)
	v.SetDefault("execution.take_profit_fraction", 0.5)

	v.SetDefault("regime.adx_trending", 25.0)
	v.SetDefault("regime.adx_ranging", 15.0)
	v.SetDefault("regime.chop_trending", 38.2)
	v.SetDefault("regime.chop_ranging", 61.8)

	v.SetDefault("scoring.trend_alignment", 0.2)
	v.SetDefault("scoring.volatility_fit", 0.1)
	v.SetDefault("scoring.entry_quality", 0.15)
	v.SetDefault("scoring.funding_penalty", 0.1)
	v.SetDefault("scoring.news_modifier", 0.05)
	v.SetDefault("scoring.liquidity", 0.1)
	v.SetDefault("scoring.crowding", 0.05)
	v.SetDefault("scoring.funding_volatility", 0.05)
	v.SetDefault("scoring.oi_expansion", 0.05)
	v.SetDefault("scoring.taker_imbalance", 0.075)
	v.SetDefault("scoring.volume_ratio", 0.075)
	v.SetDefault("scoring.threshold", 0.55)

	v.SetDefault("paths.data_dir", "./data")
	v.SetDefault("paths.ledger_file", "ledger.jsonl")
	v.SetDefault("paths.sequence_file", "sequence.txt")
	v.SetDefault("paths.pending_file", "pending_entries.json")
	v.SetDefault("paths.trade_log_csv", "trades.csv")
	v.SetDefault("paths.order_log_csv", "orders.csv")
	v.SetDefault("paths.thinking_log_json", "thinking.jsonl")
	v.SetDefault("paths.lock_file", "perpcore.lock")

	v.SetDefault("operator_listen_addr", ":8088")
	v.SetDefault("metrics_listen_addr", ":9090")
	v.SetDefault("funding_mark_source", "settlement")
}

// Load reads Config from path (if it exists), applying POC_-prefixed
// environment variable overrides on top, grounded in
// a market-making service's config loader's viper wiring.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("POC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the run-mode gates named in the external-interfaces spec:
// testnet/live require enable_trading, and live additionally requires a
// non-empty confirmation token.
func (c *Config) Validate() error {
	switch c.RunMode {
	case ModePaper, ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("invalid run_mode %q", c.RunMode)
	}
	if c.RunMode == ModeTestnet && !c.EnableTrading {
		return fmt.Errorf("run_mode=testnet requires enable_trading=true")
	}
	if c.RunMode == ModeLive {
		if !c.EnableTrading {
			return fmt.Errorf("run_mode=live requires enable_trading=true")
		}
		if strings.TrimSpace(c.LiveConfirmToken) == "" {
			return fmt.Errorf("run_mode=live requires a non-empty live_confirm_token")
		}
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be positive")
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct >= 1 {
		return fmt.Errorf("risk.risk_per_trade_pct must be in (0,1)")
	}
	return nil
}

// CanPlaceLiveOrders reports whether the run-mode gates allow live order
// placement. cmd/perpcore consults it once at startup; the execution engine
// does not call it before each placement.
func (c *Config) CanPlaceLiveOrders() bool {
	switch c.RunMode {
	case ModeTestnet:
		return c.EnableTrading
	case ModeLive:
		return c.EnableTrading && strings.TrimSpace(c.LiveConfirmToken) != ""
	default:
		return false
	}
}
