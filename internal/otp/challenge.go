package otp

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goSession/internal/schedule"
)

const (
	DefaultLength   = 6
	DefaultCooldown = 30 * time.Second

	tick = time.Second
)

var (
	ErrInvalidLength = errors.New("otp invalid length")
	ErrNotPending    = errors.New("otp challenge not pending")
	ErrCooldown      = errors.New("otp resend cooldown active")
	ErrRateLimited   = errors.New("otp resend rate limited")
	ErrAttempts      = errors.New("otp attempts exceeded")
	ErrResendBusy    = errors.New("otp resend already in flight")
)

// Status is the lifecycle state of a [Challenge].
type Status uint8

const (
	StatusPending Status = iota
	StatusVerified
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s != StatusPending }

// Options configures challenges opened by a [Controller].
type Options struct {
	Length      int
	Cooldown    time.Duration
	MaxAttempts int // zero means unlimited
	Scheduler   schedule.Scheduler
	Limiter     ResendLimiter

	// OnResendAvailable runs when the cooldown reaches zero.
	OnResendAvailable func(id string)
	// OnCancel runs exactly once, the first time a challenge is cancelled.
	OnCancel func(s Snapshot)
}

func (o Options) withDefaults() Options {
	if o.Length <= 0 {
		o.Length = DefaultLength
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.Scheduler == nil {
		o.Scheduler = schedule.NewReal()
	}
	return o
}

// Snapshot is a point-in-time copy of challenge state.
type Snapshot struct {
	ID                string
	Email             string
	Status            Status
	Length            int
	CooldownRemaining int
	Attempts          int
	Resends           int
	IssuedAt          time.Time
}

// ResendAvailable reports whether a resend would pass the cooldown check.
func (s Snapshot) ResendAvailable() bool {
	return s.Status == StatusPending && s.CooldownRemaining == 0
}

// Challenge is a single one-time-code challenge. It is safe for concurrent use.
type Challenge struct {
	mu        sync.Mutex
	opts      Options
	id        string
	email     string
	status    Status
	remaining int
	attempts  int
	resends   int
	issuedAt  time.Time
	countdown schedule.Task
	sending   bool
}

func newChallenge(email string, opts Options) *Challenge {
	c := &Challenge{
		opts:     opts,
		id:       uuid.NewString(),
		email:    email,
		status:   StatusPending,
		issuedAt: opts.Scheduler.Now(),
	}
	c.mu.Lock()
	c.startCountdownLocked()
	c.mu.Unlock()
	return c
}

func cooldownSeconds(d time.Duration) int {
	return int((d + tick - 1) / tick)
}

func (c *Challenge) startCountdownLocked() {
	c.stopCountdownLocked()
	c.remaining = cooldownSeconds(c.opts.Cooldown)
	c.countdown = c.opts.Scheduler.Every(tick, c.onTick)
}

func (c *Challenge) stopCountdownLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Challenge) onTick() {
	c.mu.Lock()
	if c.status != StatusPending || c.remaining == 0 {
		c.stopCountdownLocked()
		c.mu.Unlock()
		return
	}
	c.remaining--
	ready := c.remaining == 0
	if ready {
		c.stopCountdownLocked()
	}
	cb := c.opts.OnResendAvailable
	id := c.id
	c.mu.Unlock()

	if ready && cb != nil {
		cb(id)
	}
}

func (c *Challenge) ID() string    { return c.id }
func (c *Challenge) Email() string { return c.email }

func (c *Challenge) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Challenge) snapshotLocked() Snapshot {
	return Snapshot{
		ID:                c.id,
		Email:             c.email,
		Status:            c.status,
		Length:            c.opts.Length,
		CooldownRemaining: c.remaining,
		Attempts:          c.attempts,
		Resends:           c.resends,
		IssuedAt:          c.issuedAt,
	}
}

// CheckCode validates code locally. It never counts as an attempt.
func (c *Challenge) CheckCode(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPending {
		return ErrNotPending
	}
	if len(code) != c.opts.Length {
		return ErrInvalidLength
	}
	return nil
}

// RecordFailure counts a rejected code. When MaxAttempts is reached the
// challenge becomes Failed and ErrAttempts is returned.
func (c *Challenge) RecordFailure() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPending {
		return c.attempts, ErrNotPending
	}
	c.attempts++
	if c.opts.MaxAttempts > 0 && c.attempts >= c.opts.MaxAttempts {
		c.status = StatusFailed
		c.stopCountdownLocked()
		return c.attempts, ErrAttempts
	}
	return c.attempts, nil
}

// MarkVerified moves the challenge to Verified and stops the countdown.
func (c *Challenge) MarkVerified() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPending {
		return ErrNotPending
	}
	c.status = StatusVerified
	c.stopCountdownLocked()
	return nil
}

// BeginResend reserves the challenge for one resend. The countdown keeps
// running until [Challenge.CompleteResend] reports a delivered code.
func (c *Challenge) BeginResend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPending {
		return ErrNotPending
	}
	if c.remaining > 0 {
		return ErrCooldown
	}
	if c.sending {
		return ErrResendBusy
	}
	c.sending = true
	return nil
}

// AllowResend consults the resend limiter. The limiter may call a shared
// backend, so the challenge lock is not held.
func (c *Challenge) AllowResend() bool {
	if c.opts.Limiter == nil {
		return true
	}
	return c.opts.Limiter.Allow(c.opts.Scheduler.Now())
}

// CompleteResend ends the resend reserved by BeginResend. Only a delivered
// code counts as a resend and restarts the cooldown.
func (c *Challenge) CompleteResend(delivered bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if c.status != StatusPending {
		return ErrNotPending
	}
	if delivered {
		c.resends++
		c.startCountdownLocked()
	}
	return nil
}

// Cancel moves a pending challenge to Cancelled. It reports true only for
// the call that performed the transition.
func (c *Challenge) Cancel() bool {
	c.mu.Lock()
	if c.status != StatusPending {
		c.mu.Unlock()
		return false
	}
	c.status = StatusCancelled
	c.stopCountdownLocked()
	snap := c.snapshotLocked()
	cb := c.opts.OnCancel
	c.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
	return true
}
