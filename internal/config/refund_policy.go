package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RefundPolicy holds the operational tunables of the refund pipeline.
// It lives in refund.yml so operators can adjust retry budgets and
// concurrency caps without a redeploy.
type RefundPolicy struct {
	// ConflictRetries bounds how often the orchestrator re-reads state
	// after a missed optimistic update before reporting a conflict.
	ConflictRetries int `mapstructure:"conflictRetries"`
	// BatchConcurrency caps parallel refunds inside one cancellation batch.
	BatchConcurrency int `mapstructure:"batchConcurrency"`
	// ProcessorRatePerSecond paces outbound processor calls.
	ProcessorRatePerSecond int `mapstructure:"processorRatePerSecond"`
	// ProcessorBurst is the token bucket burst for processor calls.
	ProcessorBurst int `mapstructure:"processorBurst"`
	// ProcessorTimeout bounds a single processor refund call.
	ProcessorTimeout time.Duration `mapstructure:"processorTimeout"`
	// ReconcileInterval is the cadence of the refund reconciler job.
	ReconcileInterval time.Duration `mapstructure:"reconcileInterval"`
	// ReconcileLockTTL is the distributed lock TTL for the reconciler.
	ReconcileLockTTL time.Duration `mapstructure:"reconcileLockTTL"`
}

func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{
		ConflictRetries:        3,
		BatchConcurrency:       4,
		ProcessorRatePerSecond: 10,
		ProcessorBurst:         20,
		ProcessorTimeout:       12 * time.Second,
		ReconcileInterval:      time.Minute,
		ReconcileLockTTL:       5 * time.Minute,
	}
}

// RefundPolicyHolder exposes the current policy and hot-reloads it on
// config file changes.
type RefundPolicyHolder struct {
	current atomic.Value // holds RefundPolicy
}

func NewRefundPolicyHolder() (*RefundPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("refund")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/stagepass/config")
	v.AddConfigPath("/etc/stagepass")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STAGEPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRefundPolicy()
		v.SetDefault("refund.conflictRetries", defaults.ConflictRetries)
		v.SetDefault("refund.batchConcurrency", defaults.BatchConcurrency)
		v.SetDefault("refund.processorRatePerSecond", defaults.ProcessorRatePerSecond)
		v.SetDefault("refund.processorBurst", defaults.ProcessorBurst)
		v.SetDefault("refund.processorTimeout", defaults.ProcessorTimeout)
		v.SetDefault("refund.reconcileInterval", defaults.ReconcileInterval)
		v.SetDefault("refund.reconcileLockTTL", defaults.ReconcileLockTTL)
	}

	var policy RefundPolicy
	if err := v.UnmarshalKey("refund", &policy); err != nil {
		return nil, err
	}
	if err := validateRefundPolicy(policy); err != nil {
		return nil, err
	}

	holder := &RefundPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RefundPolicy
		if err := v.UnmarshalKey("refund", &updated); err != nil {
			log.Printf("[refund-policy] reload failed: %v", err)
			return
		}
		if err := validateRefundPolicy(updated); err != nil {
			log.Printf("[refund-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[refund-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRefundPolicyHolder wraps a fixed policy, for tests.
func NewStaticRefundPolicyHolder(policy RefundPolicy) *RefundPolicyHolder {
	holder := &RefundPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *RefundPolicyHolder) Get() RefundPolicy {
	return h.current.Load().(RefundPolicy)
}

func validateRefundPolicy(policy RefundPolicy) error {
	if policy.ConflictRetries < 1 {
		return errors.New("refund.conflictRetries must be at least 1")
	}
	if policy.BatchConcurrency < 1 {
		return errors.New("refund.batchConcurrency must be at least 1")
	}
	if policy.ProcessorTimeout <= 0 {
		return errors.New("refund.processorTimeout must be positive")
	}
	if policy.ReconcileInterval <= 0 {
		return errors.New("refund.reconcileInterval must be positive")
	}
	return nil
}
