package goSession

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/goSession/session"
)

// Config holds every tunable of the session manager.
//
// Config values are copied at build time; later changes to the caller's copy
// have no effect.
type Config struct {
	Watchdog    WatchdogConfig
	OTP         OTPConfig
	EntryPoints map[EntryPoint]EntryPolicy
	Store       StoreConfig
	Gateway     GatewayConfig
	Loop        LoopConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
ENTRY POINTS
====================================
*/

// EntryPoint names a sign-in path such as the patient or institutional screen.
type EntryPoint string

const (
	EntryPatient       EntryPoint = "patient"
	EntryInstitutional EntryPoint = "institutional"
)

// SecondFactorPolicy decides whether a one-time code is required after the
// primary credentials are accepted.
type SecondFactorPolicy uint8

const (
	SecondFactorNever SecondFactorPolicy = iota
	SecondFactorAlways
	// SecondFactorByRole requires a code only for roles listed in
	// EntryPolicy.SecondFactorRoles.
	SecondFactorByRole
)

func (p SecondFactorPolicy) String() string {
	switch p {
	case SecondFactorAlways:
		return "always"
	case SecondFactorByRole:
		return "by_role"
	}
	return "never"
}

// EntryPolicy is the rule set of one entry point.
type EntryPolicy struct {
	// RequiredRole, when set, must equal the authenticated identity's role.
	RequiredRole      string
	SecondFactor      SecondFactorPolicy
	SecondFactorRoles []string
}

func (p EntryPolicy) requiresSecondFactor(role string) bool {
	switch p.SecondFactor {
	case SecondFactorAlways:
		return true
	case SecondFactorByRole:
		for _, r := range p.SecondFactorRoles {
			if r == role {
				return true
			}
		}
	}
	return false
}

func (p EntryPolicy) roleQualifies(role string) bool {
	return p.RequiredRole == "" || p.RequiredRole == role
}

/*
====================================
SECTIONS
====================================
*/

// WatchdogConfig controls the periodic credential check.
type WatchdogConfig struct {
	Period  time.Duration
	Timeout time.Duration
}

// OTPConfig controls one-time-code challenges.
type OTPConfig struct {
	Length         int
	ResendCooldown time.Duration
	// MaxAttempts fails the challenge after that many rejected codes. Zero
	// means unlimited.
	MaxAttempts int
	// ResendBurst and ResendRefill configure the resend token bucket. A zero
	// burst disables it.
	ResendBurst  int
	ResendRefill time.Duration
}

// StoreConfig controls credential store access.
type StoreConfig struct {
	Key       string
	OpTimeout time.Duration
}

// GatewayConfig bounds provider calls.
type GatewayConfig struct {
	CallTimeout time.Duration
}

// LoopConfig sizes the transition loop.
type LoopConfig struct {
	InboxSize       int
	SignalBuffer    int
	ShutdownTimeout time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the portal defaults: a 60s watchdog, six digit codes
// with a 30s resend cooldown, and the patient and institutional entry points.
func DefaultConfig() Config {
	return Config{
		Watchdog: WatchdogConfig{
			Period:  60 * time.Second,
			Timeout: 5 * time.Second,
		},
		OTP: OTPConfig{
			Length:         6,
			ResendCooldown: 30 * time.Second,
			MaxAttempts:    0,
			ResendBurst:    0,
			ResendRefill:   time.Minute,
		},
		EntryPoints: map[EntryPoint]EntryPolicy{
			EntryPatient: {
				SecondFactor: SecondFactorNever,
			},
			EntryInstitutional: {
				RequiredRole: session.RoleInstitutional,
				SecondFactor: SecondFactorAlways,
			},
		},
		Store: StoreConfig{
			Key:       session.DefaultKey,
			OpTimeout: 2 * time.Second,
		},
		Gateway: GatewayConfig{
			CallTimeout: 15 * time.Second,
		},
		Loop: LoopConfig{
			InboxSize:       64,
			SignalBuffer:    16,
			ShutdownTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.EntryPoints != nil {
		out.EntryPoints = make(map[EntryPoint]EntryPolicy, len(cfg.EntryPoints))
		for k, v := range cfg.EntryPoints {
			v.SecondFactorRoles = append([]string(nil), v.SecondFactorRoles...)
			out.EntryPoints[k] = v
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Watchdog.Period <= 0 {
		return errors.New("Watchdog Period must be > 0")
	}
	if c.Watchdog.Timeout <= 0 {
		return errors.New("Watchdog Timeout must be > 0")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return errors.New("OTP Length must be between 4 and 10")
	}
	if c.OTP.ResendCooldown < time.Second {
		return errors.New("OTP ResendCooldown must be >= 1s")
	}
	if c.OTP.MaxAttempts < 0 {
		return errors.New("OTP MaxAttempts must be >= 0")
	}
	if c.OTP.ResendBurst < 0 {
		return errors.New("OTP ResendBurst must be >= 0")
	}
	if c.OTP.ResendBurst > 0 && c.OTP.ResendRefill <= 0 {
		return errors.New("OTP ResendRefill must be > 0 when ResendBurst is set")
	}

	if len(c.EntryPoints) == 0 {
		return errors.New("at least one entry point is required")
	}
	for name, p := range c.EntryPoints {
		if strings.TrimSpace(string(name)) == "" {
			return errors.New("entry point name must not be empty")
		}
		if p.SecondFactor > SecondFactorByRole {
			return fmt.Errorf("entry point %q: unknown second factor policy", name)
		}
		if p.SecondFactor == SecondFactorByRole && len(p.SecondFactorRoles) == 0 {
			return fmt.Errorf("entry point %q: SecondFactorRoles required for by_role policy", name)
		}
	}

	if c.Store.Key == "" {
		return errors.New("Store Key must not be empty")
	}
	if c.Store.OpTimeout <= 0 {
		return errors.New("Store OpTimeout must be > 0")
	}
	if c.Gateway.CallTimeout <= 0 {
		return errors.New("Gateway CallTimeout must be > 0")
	}

	if c.Loop.InboxSize <= 0 {
		return errors.New("Loop InboxSize must be > 0")
	}
	if c.Loop.SignalBuffer <= 0 {
		return errors.New("Loop SignalBuffer must be > 0")
	}
	if c.Loop.ShutdownTimeout <= 0 {
		return errors.New("Loop ShutdownTimeout must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}

/*
====================================
ENVIRONMENT
====================================
*/

type configEnv struct {
	WatchdogPeriod  time.Duration `env:"GOSESSION_WATCHDOG_PERIOD"   envDefault:"60s"`
	WatchdogTimeout time.Duration `env:"GOSESSION_WATCHDOG_TIMEOUT"  envDefault:"5s"`
	OTPLength       int           `env:"GOSESSION_OTP_LENGTH"        envDefault:"6"`
	OTPCooldown     time.Duration `env:"GOSESSION_OTP_COOLDOWN"      envDefault:"30s"`
	OTPMaxAttempts  int           `env:"GOSESSION_OTP_MAX_ATTEMPTS"  envDefault:"0"`
	OTPResendBurst  int           `env:"GOSESSION_OTP_RESEND_BURST"  envDefault:"0"`
	OTPResendRefill time.Duration `env:"GOSESSION_OTP_RESEND_REFILL" envDefault:"1m"`
	StoreKey        string        `env:"GOSESSION_STORE_KEY"         envDefault:"healthsync_auth_token"`
	StoreTimeout    time.Duration `env:"GOSESSION_STORE_TIMEOUT"     envDefault:"2s"`
	GatewayTimeout  time.Duration `env:"GOSESSION_GATEWAY_TIMEOUT"   envDefault:"15s"`
	AuditEnabled    bool          `env:"GOSESSION_AUDIT_ENABLED"     envDefault:"false"`
	AuditBuffer     int           `env:"GOSESSION_AUDIT_BUFFER"      envDefault:"256"`
	MetricsEnabled  bool          `env:"GOSESSION_METRICS_ENABLED"   envDefault:"false"`
	MetricsLatency  bool          `env:"GOSESSION_METRICS_LATENCY"   envDefault:"false"`
	// InstitutionalRole overrides the role required by the institutional entry point.
	InstitutionalRole string `env:"GOSESSION_INSTITUTIONAL_ROLE" envDefault:"hospital"`
	// PatientSecondFactor is one of never, always.
	PatientSecondFactor string `env:"GOSESSION_PATIENT_SECOND_FACTOR" envDefault:"never"`
}

// LoadConfigFromEnv overlays GOSESSION_* environment variables on
// [DefaultConfig] and validates the result.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Watchdog.Period = raw.WatchdogPeriod
	cfg.Watchdog.Timeout = raw.WatchdogTimeout
	cfg.OTP.Length = raw.OTPLength
	cfg.OTP.ResendCooldown = raw.OTPCooldown
	cfg.OTP.MaxAttempts = raw.OTPMaxAttempts
	cfg.OTP.ResendBurst = raw.OTPResendBurst
	cfg.OTP.ResendRefill = raw.OTPResendRefill
	cfg.Store.Key = raw.StoreKey
	cfg.Store.OpTimeout = raw.StoreTimeout
	cfg.Gateway.CallTimeout = raw.GatewayTimeout
	cfg.Audit.Enabled = raw.AuditEnabled
	cfg.Audit.BufferSize = raw.AuditBuffer
	cfg.Metrics.Enabled = raw.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = raw.MetricsLatency

	inst := cfg.EntryPoints[EntryInstitutional]
	inst.RequiredRole = raw.InstitutionalRole
	cfg.EntryPoints[EntryInstitutional] = inst

	patient := cfg.EntryPoints[EntryPatient]
	switch strings.ToLower(raw.PatientSecondFactor) {
	case "never", "":
		patient.SecondFactor = SecondFactorNever
	case "always":
		patient.SecondFactor = SecondFactorAlways
	default:
		return Config{}, fmt.Errorf("GOSESSION_PATIENT_SECOND_FACTOR: unknown policy %q", raw.PatientSecondFactor)
	}
	cfg.EntryPoints[EntryPatient] = patient

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
