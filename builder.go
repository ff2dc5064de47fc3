package goSession

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/otp"
	"github.com/MrEthical07/goSession/internal/schedule"
	"github.com/MrEthical07/goSession/internal/watchdog"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

// Builder assembles a [Manager]. A Builder can be used once.
type Builder struct {
	config Config

	gateway   gateway.Gateway
	store     session.CredentialStore
	codec     token.Codec
	scheduler schedule.Scheduler
	auditSink AuditSink
	limiter   ResendLimiter
	log       *zap.Logger

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. Build validates it.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithGateway sets the identity provider. It is required.
func (b *Builder) WithGateway(gw gateway.Gateway) *Builder {
	b.gateway = gw
	return b
}

// WithStore sets the credential store. Defaults to an in-memory store.
func (b *Builder) WithStore(store session.CredentialStore) *Builder {
	b.store = store
	return b
}

// WithCodec sets the token codec. Defaults to [token.PlaceholderCodec].
func (b *Builder) WithCodec(codec token.Codec) *Builder {
	b.codec = codec
	return b
}

// WithScheduler sets the clock used for the watchdog and OTP countdowns.
func (b *Builder) WithScheduler(s Scheduler) *Builder {
	b.scheduler = s
	return b
}

// WithAuditSink sets the audit destination. Setting a sink enables audit
// dispatch.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithResendLimiter replaces the in-process resend budget configured by
// OTPConfig.ResendBurst, for example with [NewRedisResendLimiter].
func (b *Builder) WithResendLimiter(l ResendLimiter) *Builder {
	b.limiter = l
	return b
}

// WithLogger sets the logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a stopped Manager. Call
// [Manager.Start] before using it.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.gateway == nil {
		return nil, errors.New("identity provider gateway required")
	}

	store := b.store
	if store == nil {
		store = session.NewMemoryStore()
	}
	codec := b.codec
	if codec == nil {
		codec = token.PlaceholderCodec{}
	}
	clock := b.scheduler
	if clock == nil {
		clock = schedule.NewReal()
	}
	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	m := &Manager{
		config:  cfg,
		log:     log.Named("session"),
		gw:      b.gateway,
		store:   store,
		codec:   codec,
		clock:   clock,
		metrics: NewMetrics(cfg.Metrics),
		inbox:   make(chan message, cfg.Loop.InboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		signals: make(chan Signal, cfg.Loop.SignalBuffer),

		pushReady: make(chan struct{}, 1),
		inflight:  make(map[*call]struct{}),
	}
	m.genCtx, m.cancelGen = context.WithCancel(context.Background())

	m.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Now:        clock.Now,
	}, b.auditSink)

	limiter := b.limiter
	if limiter == nil && cfg.OTP.ResendBurst > 0 {
		limiter = otp.NewTokenBucket(cfg.OTP.ResendRefill, cfg.OTP.ResendBurst)
	}
	m.otp = otp.NewController(otp.Options{
		Length:            cfg.OTP.Length,
		Cooldown:          cfg.OTP.ResendCooldown,
		MaxAttempts:       cfg.OTP.MaxAttempts,
		Scheduler:         clock,
		Limiter:           limiter,
		OnResendAvailable: m.onResendAvailable,
		OnCancel:          m.onChallengeCancelled,
	})

	m.watchdog = watchdog.New(watchdog.Config{
		Period:    cfg.Watchdog.Period,
		Store:     store,
		Codec:     codec,
		Scheduler: clock,
		Timeout:   cfg.Watchdog.Timeout,
	})

	m.publish()
	b.built = true
	return m, nil
}
