// Package config loads gctune settings from defaults, an optional YAML file,
// GCTUNE_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/internal/logging"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	envPrefix      = "GCTUNE"
	configName     = "gctune"
	maxPercent     = 100
	defaultReadCap = "256MB"
)

type Config struct {
	Goals   GoalsConfig   `mapstructure:"goals"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Collect CollectConfig `mapstructure:"collect"`
	Logging LoggingConfig `mapstructure:"logging"`
	Replay  ReplayConfig  `mapstructure:"replay"`
}

// GoalsConfig mirrors gc.Goals. Percentages are 0-100.
type GoalsConfig struct {
	YoungPauseGoalMS      float64 `mapstructure:"young_pause_goal_ms"`
	PauseStdevGoalMS      float64 `mapstructure:"pause_stdev_goal_ms"`
	Optimize              float64 `mapstructure:"optimize"`
	SurvivorWatermarkPct  float64 `mapstructure:"survivor_watermark_pct"`
	NonReapingDeathPct    float64 `mapstructure:"non_reaping_death_pct"`
	NonReapingCohortShare float64 `mapstructure:"non_reaping_cohort_share"`
	MinFullGCSamples      int     `mapstructure:"min_full_gc_samples"`
	MinYoungGCSamples     int     `mapstructure:"min_young_gc_samples"`
	PromotionPercentile   float64 `mapstructure:"promotion_percentile"`
	PausePercentile       float64 `mapstructure:"pause_percentile"`
	HeapLiveMultiplier    float64 `mapstructure:"heap_live_multiplier"`
	MetaspaceMultiplier   float64 `mapstructure:"metaspace_multiplier"`
}

type ParserConfig struct {
	// WarmupFloor drops events logged before this much JVM uptime.
	WarmupFloor time.Duration `mapstructure:"warmup_floor"`
}

type CollectConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	JmapAttempts int           `mapstructure:"jmap_attempts"`
	JmapBackoff  time.Duration `mapstructure:"jmap_backoff"`
	JavaHome     string        `mapstructure:"java_home"`
	// MaxLogRead caps how much of an existing log is read on start, e.g. "256MB".
	MaxLogRead string     `mapstructure:"max_log_read"`
	Stop       StopConfig `mapstructure:"stop"`
	NoOutput   bool       `mapstructure:"no_output"`
}

type StopConfig struct {
	FullGCs  int `mapstructure:"full_gcs"`
	YoungGCs int `mapstructure:"young_gcs"`
	Samples  int `mapstructure:"samples"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ReplayConfig struct {
	Path string `mapstructure:"path"`
}

// Binding ties a viper key to a command-line flag.
type Binding struct {
	Key  string
	Flag *pflag.Flag
}

// LoadConfig reads configPath when set, otherwise gctune.yaml from the
// working directory or $HOME/.config/gctune. A missing file is not an error.
func LoadConfig(configPath string, bindings ...Binding) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range bindings {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", b.Flag.Name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	goals := gc.DefaultGoals()
	v.SetDefault("goals.young_pause_goal_ms", goals.YoungPauseGoalMS.InexactFloat64())
	v.SetDefault("goals.pause_stdev_goal_ms", goals.PauseStdevGoalMS.InexactFloat64())
	v.SetDefault("goals.optimize", goals.Optimize.InexactFloat64())
	v.SetDefault("goals.survivor_watermark_pct", goals.SurvivorWatermarkPct.InexactFloat64())
	v.SetDefault("goals.non_reaping_death_pct", goals.NonReapingDeathPct.InexactFloat64())
	v.SetDefault("goals.non_reaping_cohort_share", goals.NonReapingCohortShare.InexactFloat64())
	v.SetDefault("goals.min_full_gc_samples", goals.MinFullGCSamples)
	v.SetDefault("goals.min_young_gc_samples", goals.MinYoungGCSamples)
	v.SetDefault("goals.promotion_percentile", goals.PromotionPercentile.InexactFloat64())
	v.SetDefault("goals.pause_percentile", gc.DefaultPausePercentile.InexactFloat64())
	v.SetDefault("goals.heap_live_multiplier", goals.HeapLiveMultiplier.InexactFloat64())
	v.SetDefault("goals.metaspace_multiplier", goals.MetaspaceMultiplier.InexactFloat64())

	v.SetDefault("parser.warmup_floor", "5m")

	v.SetDefault("collect.interval", "1s")
	v.SetDefault("collect.poll_interval", "1s")
	v.SetDefault("collect.jmap_attempts", 8)
	v.SetDefault("collect.jmap_backoff", "2s")
	v.SetDefault("collect.java_home", "")
	v.SetDefault("collect.max_log_read", defaultReadCap)
	v.SetDefault("collect.stop.full_gcs", 0)
	v.SetDefault("collect.stop.young_gcs", 0)
	v.SetDefault("collect.stop.samples", 0)
	v.SetDefault("collect.no_output", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logging.FormatText)

	v.SetDefault("replay.path", "")
}

func validateConfig(cfg *Config) error {
	g := cfg.Goals
	if g.Optimize < 0 || g.Optimize > gc.OptimizeMax {
		return fmt.Errorf("%w: goals.optimize must be between 0 and %d, got %v", ErrInvalidConfig, gc.OptimizeMax, g.Optimize)
	}
	if g.YoungPauseGoalMS <= 0 || g.PauseStdevGoalMS <= 0 {
		return fmt.Errorf("%w: pause goals must be positive", ErrInvalidConfig)
	}
	for name, pct := range map[string]float64{
		"survivor_watermark_pct":   g.SurvivorWatermarkPct,
		"non_reaping_death_pct":    g.NonReapingDeathPct,
		"non_reaping_cohort_share": g.NonReapingCohortShare,
		"promotion_percentile":     g.PromotionPercentile,
		"pause_percentile":         g.PausePercentile,
	} {
		if pct <= 0 || pct > maxPercent {
			return fmt.Errorf("%w: goals.%s must be in (0, 100], got %v", ErrInvalidConfig, name, pct)
		}
	}
	if g.MinFullGCSamples < 0 || g.MinYoungGCSamples < 0 {
		return fmt.Errorf("%w: minimum sample counts cannot be negative", ErrInvalidConfig)
	}

	if cfg.Parser.WarmupFloor < 0 {
		return fmt.Errorf("%w: parser.warmup_floor cannot be negative", ErrInvalidConfig)
	}

	c := cfg.Collect
	if c.Interval <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: collect intervals must be positive", ErrInvalidConfig)
	}
	if c.JmapAttempts < 1 {
		return fmt.Errorf("%w: collect.jmap_attempts must be at least 1, got %d", ErrInvalidConfig, c.JmapAttempts)
	}
	if c.Stop.FullGCs < 0 || c.Stop.YoungGCs < 0 || c.Stop.Samples < 0 {
		return fmt.Errorf("%w: stop counts cannot be negative", ErrInvalidConfig)
	}
	if _, err := humanize.ParseBytes(c.MaxLogRead); err != nil {
		return fmt.Errorf("%w: collect.max_log_read %q: %v", ErrInvalidConfig, c.MaxLogRead, err)
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f := strings.ToLower(cfg.Logging.Format); f != logging.FormatText && f != logging.FormatJSON {
		return fmt.Errorf("%w: logging.format must be text or json, got %q", ErrInvalidConfig, cfg.Logging.Format)
	}
	return nil
}

// EngineGoals converts the goals section for the sizing engine.
func (c *Config) EngineGoals() gc.Goals {
	g := c.Goals
	return gc.Goals{
		YoungPauseGoalMS:      decimal.NewFromFloat(g.YoungPauseGoalMS),
		PauseStdevGoalMS:      decimal.NewFromFloat(g.PauseStdevGoalMS),
		Optimize:              decimal.NewFromFloat(g.Optimize),
		SurvivorWatermarkPct:  decimal.NewFromFloat(g.SurvivorWatermarkPct),
		NonReapingDeathPct:    decimal.NewFromFloat(g.NonReapingDeathPct),
		NonReapingCohortShare: decimal.NewFromFloat(g.NonReapingCohortShare),
		MinFullGCSamples:      g.MinFullGCSamples,
		MinYoungGCSamples:     g.MinYoungGCSamples,
		PromotionPercentile:   decimal.NewFromFloat(g.PromotionPercentile),
		HeapLiveMultiplier:    decimal.NewFromFloat(g.HeapLiveMultiplier),
		MetaspaceMultiplier:   decimal.NewFromFloat(g.MetaspaceMultiplier),
	}
}

func (c *Config) Aggregator() *gc.Aggregator {
	return &gc.Aggregator{PausePercentile: decimal.NewFromFloat(c.Goals.PausePercentile)}
}

func (c *Config) WarmupFloor() decimal.Decimal {
	return decimal.NewFromInt(c.Parser.WarmupFloor.Microseconds()).Shift(-6)
}

func (c *Config) StopCondition() gc.StopCondition {
	return gc.StopCondition{
		FullGCs:  c.Collect.Stop.FullGCs,
		YoungGCs: c.Collect.Stop.YoungGCs,
		Samples:  c.Collect.Stop.Samples,
	}
}

// MaxLogReadBytes is collect.max_log_read in bytes. validateConfig has
// already rejected unparsable values.
func (c *Config) MaxLogReadBytes() int64 {
	n, err := humanize.ParseBytes(c.Collect.MaxLogRead)
	if err != nil {
		return 0
	}
	return int64(n)
}

// ReplayPath is replay.path, or gctune_data-<user>.yaml.lz4 in the temp dir.
func (c *Config) ReplayPath() string {
	if c.Replay.Path != "" {
		return c.Replay.Path
	}
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("gctune_data-%s.yaml.lz4", name))
}
