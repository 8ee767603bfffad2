package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LedgerPolicy carries the tunable classification rules of the receivables ledger.
type LedgerPolicy struct {
	Risk                    RiskThresholds   `mapstructure:"risk"`
	AgingBuckets            []AgingBucket    `mapstructure:"agingBuckets"`
	WorkWindow              WorkWindowPolicy `mapstructure:"workWindow"`
	DefaultPaymentTermsDays int              `mapstructure:"defaultPaymentTermsDays"`
}

// RiskThresholds holds the first overdue day of each tier above LOW.
type RiskThresholds struct {
	MediumFrom   int `mapstructure:"mediumFrom"`
	HighFrom     int `mapstructure:"highFrom"`
	CriticalFrom int `mapstructure:"criticalFrom"`
}

type AgingBucket struct {
	Label   string `mapstructure:"label"`
	MinDays int    `mapstructure:"minDays"`
	MaxDays *int   `mapstructure:"maxDays"`
}

type WorkWindowPolicy struct {
	Start         string `mapstructure:"start"`
	End           string `mapstructure:"end"`
	NonWorkingDay string `mapstructure:"nonWorkingDay"`
}

func DefaultLedgerPolicy() LedgerPolicy {
	return LedgerPolicy{
		Risk: RiskThresholds{
			MediumFrom:   1,
			HighFrom:     31,
			CriticalFrom: 91,
		},
		AgingBuckets: []AgingBucket{
			{Label: "current", MinDays: math.MinInt32, MaxDays: intPtr(0)},
			{Label: "1-30", MinDays: 1, MaxDays: intPtr(30)},
			{Label: "31-60", MinDays: 31, MaxDays: intPtr(60)},
			{Label: "61-90", MinDays: 61, MaxDays: intPtr(90)},
			{Label: "90+", MinDays: 91, MaxDays: nil},
		},
		WorkWindow: WorkWindowPolicy{
			Start:         "09:00",
			End:           "17:30",
			NonWorkingDay: "sunday",
		},
		DefaultPaymentTermsDays: 30,
	}
}

func intPtr(v int) *int { return &v }

type LedgerPolicyHolder struct {
	current atomic.Value // holds LedgerPolicy
}

// NewStaticLedgerPolicy returns a holder pinned to policy, without file watching.
func NewStaticLedgerPolicy(policy LedgerPolicy) *LedgerPolicyHolder {
	holder := &LedgerPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewLedgerPolicyHolder(cfg Config, log *zap.Logger) (*LedgerPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ledger.policy")

	v := viper.New()
	if path := strings.TrimSpace(cfg.Ledger.PolicyPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/receivables")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RECEIVABLES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("ledger policy file not found, using defaults")
		return NewStaticLedgerPolicy(DefaultLedgerPolicy()), nil
	}

	policy, err := decodeLedgerPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticLedgerPolicy(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeLedgerPolicy(v)
		if err != nil {
			log.Warn("ledger policy reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("ledger policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *LedgerPolicyHolder) Get() LedgerPolicy {
	if h == nil {
		return DefaultLedgerPolicy()
	}
	policy, ok := h.current.Load().(LedgerPolicy)
	if !ok {
		return DefaultLedgerPolicy()
	}
	return policy
}

func decodeLedgerPolicy(v *viper.Viper) (LedgerPolicy, error) {
	policy := DefaultLedgerPolicy()
	if v.IsSet("ledger") {
		if err := v.UnmarshalKey("ledger", &policy); err != nil {
			return LedgerPolicy{}, err
		}
	}
	if err := validateLedgerPolicy(policy); err != nil {
		return LedgerPolicy{}, err
	}
	return policy, nil
}

func validateLedgerPolicy(policy LedgerPolicy) error {
	risk := policy.Risk
	if risk.MediumFrom < 1 || risk.HighFrom <= risk.MediumFrom || risk.CriticalFrom <= risk.HighFrom {
		return fmt.Errorf("ledger.risk thresholds must be increasing and start at 1 or later: %+v", risk)
	}
	if len(policy.AgingBuckets) == 0 {
		return errors.New("ledger.agingBuckets cannot be empty")
	}
	if policy.DefaultPaymentTermsDays < 0 {
		return errors.New("ledger.defaultPaymentTermsDays cannot be negative")
	}
	return nil
}
