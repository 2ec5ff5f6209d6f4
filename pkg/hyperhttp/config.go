package hyperhttp

import (
	"crypto/tls"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lmousom/hyperhttp/pkg/hyperhttp/breaker"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/classify"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/retry"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/socket"
)

// BreakerScope selects whether CircuitBreaker state is shared across all
// hosts or tracked independently per host.
type BreakerScope string

const (
	BreakerScopeGlobal  BreakerScope = "global"
	BreakerScopePerHost BreakerScope = "per_host"
)

// RetryPolicyConfig is the retry policy in configuration-friendly
// (mapstructure/validator-tagged) form. Config converts it into a
// retry.Policy when building a Client.
type RetryPolicyConfig struct {
	MaxRetries        int                 `mapstructure:"max_retries" validate:"gte=0"`
	RetryCategories   []classify.Category `mapstructure:"retry_categories"`
	StatusForceList   []int               `mapstructure:"status_force_list"`
	BackoffStrategy   string              `mapstructure:"backoff_strategy" validate:"omitempty,oneof=exponential decorrelated_jitter"`
	BackoffInitial    time.Duration       `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration       `mapstructure:"backoff_max"`
	BackoffMultiplier float64             `mapstructure:"backoff_multiplier" validate:"omitempty,gt=1"`
	RetryIfResult     func(*retry.Outcome) bool
	RespectRetryAfter bool `mapstructure:"respect_retry_after"`
}

// DefaultRetryPolicyConfig returns reasonable retry defaults: exponential
// backoff with jitter, the full transient/server/connection/timeout
// category set, and Retry-After honored.
func DefaultRetryPolicyConfig() RetryPolicyConfig {
	return RetryPolicyConfig{
		MaxRetries: 3,
		RetryCategories: []classify.Category{
			classify.Transient, classify.Timeout, classify.Server, classify.Connection,
		},
		StatusForceList:   []int{429, 503},
		BackoffStrategy:   "exponential",
		BackoffInitial:    100 * time.Millisecond,
		BackoffMax:        10 * time.Second,
		BackoffMultiplier: 2.0,
		RespectRetryAfter: true,
	}
}

// CircuitBreakerConfig is the circuit breaker's settings in
// configuration-friendly form.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gt=0"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" validate:"gt=0"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"gt=0"`
	Window           time.Duration `mapstructure:"window" validate:"gt=0"`
	Scope            BreakerScope  `mapstructure:"scope" validate:"oneof=global per_host"`
	MaxHosts         int           `mapstructure:"max_hosts" validate:"gte=0"`
}

// DefaultCircuitBreakerConfig returns breaker.DefaultConfig's values in
// configuration-friendly form.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	d := breaker.DefaultConfig()
	return CircuitBreakerConfig{
		FailureThreshold: d.FailureThreshold,
		RecoveryTimeout:  d.RecoveryTimeout,
		SuccessThreshold: d.SuccessThreshold,
		Window:           d.Window,
		Scope:            BreakerScopePerHost,
		MaxHosts:         d.MaxHosts,
	}
}

// Config is a Client's full configuration surface: pool limits,
// protocol selection, timeouts, retry policy, circuit breaker, TLS, and
// observability hooks. The mapstructure+validator tag pairing makes it
// a validated, config-file/env-bindable settings struct.
type Config struct {
	MaxConnections    int           `mapstructure:"max_connections" validate:"gt=0"`
	MaxKeepaliveConns int           `mapstructure:"max_keepalive_connections" validate:"gt=0"`
	MaxKeepalive      time.Duration `mapstructure:"max_keepalive" validate:"gt=0"`
	EnableHTTP2       bool          `mapstructure:"enable_http2"`
	HTTP2Only         bool          `mapstructure:"http2_only"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RetryPolicy       RetryPolicyConfig
	CircuitBreaker    CircuitBreakerConfig
	TLSConfig         *tls.Config    `validate:"-"`
	SocketTuning      *socket.Config `validate:"-"`
	Tracer            Tracer         `validate:"-"`
	Metrics           Metrics        `validate:"-"`
}

// DefaultConfig returns reasonable production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    100,
		MaxKeepaliveConns: 20,
		MaxKeepalive:      300 * time.Second,
		EnableHTTP2:       true,
		HTTP2Only:         false,
		ConnectTimeout:    10 * time.Second,
		ReadTimeout:       30 * time.Second,
		RequestTimeout:    60 * time.Second,
		RetryPolicy:       DefaultRetryPolicyConfig(),
		CircuitBreaker:    DefaultCircuitBreakerConfig(),
	}
}

var validate = validator.New()

// Validate checks the configuration's enumerated invariants (positive
// caps, a recognized backoff_strategy, a recognized breaker scope).
// TLSConfig/Tracer/Metrics are opaque to the validator by design (tagged
// "-"); their own zero values are always valid (nil TLSConfig means the
// default *tls.Config, nil hooks mean no-ops).
func (c *Config) Validate() error {
	return validate.Struct(c)
}
