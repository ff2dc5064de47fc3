package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/schedule"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

// DefaultPeriod is the interval between checks.
const DefaultPeriod = 60 * time.Second

// Verdict classifies the stored credential at one instant.
type Verdict uint8

const (
	// VerdictValid means a decodable, unexpired token is stored.
	VerdictValid Verdict = iota
	// VerdictMissing means nothing is stored.
	VerdictMissing
	// VerdictMalformed means the stored value does not decode.
	VerdictMalformed
	// VerdictExpired means the token decodes but has expired.
	VerdictExpired
	// VerdictUnreadable means the store itself failed.
	VerdictUnreadable
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictMissing:
		return "missing"
	case VerdictMalformed:
		return "malformed"
	case VerdictExpired:
		return "expired"
	case VerdictUnreadable:
		return "unreadable"
	}
	return "unknown"
}

// Report is the outcome of one check.
type Report struct {
	// Version is the handler's state version captured before the store read.
	Version uint64
	Verdict Verdict
	Token   string
	Claims  token.Claims
	Err     error
	At      time.Time
}

// Inspect reads the store once and classifies its content.
func Inspect(ctx context.Context, store session.CredentialStore, codec token.Codec, now time.Time) Report {
	r := Report{At: now}
	raw, ok, err := store.Get(ctx)
	switch {
	case err != nil:
		r.Verdict, r.Err = VerdictUnreadable, err
		return r
	case !ok:
		r.Verdict = VerdictMissing
		return r
	}

	r.Token = raw
	claims, err := token.Validate(codec, raw, now)
	r.Claims = claims
	switch {
	case err == nil:
		r.Verdict = VerdictValid
	case errors.Is(err, token.ErrExpired):
		r.Verdict, r.Err = VerdictExpired, err
	default:
		r.Verdict, r.Err = VerdictMalformed, err
	}
	return r
}

// Handler receives reports. Version is called before each store read so
// the handler can reject a report that was overtaken by newer state.
type Handler interface {
	Version() uint64
	HandleReport(Report)
}

// Config configures a [Watchdog].
type Config struct {
	Period    time.Duration
	Store     session.CredentialStore
	Codec     token.Codec
	Scheduler schedule.Scheduler
	Timeout   time.Duration
}

// Watchdog runs [Inspect] on a fixed period until stopped.
type Watchdog struct {
	cfg  Config
	mu   sync.Mutex
	task schedule.Task
}

func New(cfg Config) *Watchdog {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.NewReal()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Watchdog{cfg: cfg}
}

// Start begins periodic checks. Starting a running watchdog is a no-op.
func (w *Watchdog) Start(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.task != nil {
		return
	}
	w.task = w.cfg.Scheduler.Every(w.cfg.Period, func() { w.Check(h) })
}

// Check runs one check immediately and hands the report to h.
func (w *Watchdog) Check(h Handler) {
	version := h.Version()
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()
	r := Inspect(ctx, w.cfg.Store, w.cfg.Codec, w.cfg.Scheduler.Now())
	r.Version = version
	h.HandleReport(r)
}

// Stop cancels the periodic task. It is idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	task := w.task
	w.task = nil
	w.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// Running reports whether periodic checks are scheduled.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.task != nil
}
