package otp

import "sync"

// Controller holds at most one open challenge.
type Controller struct {
	mu      sync.Mutex
	opts    Options
	current *Challenge
}

func NewController(opts Options) *Controller {
	return &Controller{opts: opts.withDefaults()}
}

// Open starts a new challenge for email, cancelling any pending one first.
func (c *Controller) Open(email string) *Challenge {
	c.mu.Lock()
	prev := c.current
	next := newChallenge(email, c.opts)
	c.current = next
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	return next
}

// Current returns the open challenge, or nil.
func (c *Controller) Current() *Challenge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Lookup returns the current challenge only if its id matches.
func (c *Controller) Lookup(id string) *Challenge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.id != id {
		return nil
	}
	return c.current
}

// Release forgets ch if it is still current, without changing its status.
func (c *Controller) Release(ch *Challenge) {
	c.mu.Lock()
	if c.current == ch {
		c.current = nil
	}
	c.mu.Unlock()
}

// Discard cancels and forgets the current challenge. It reports whether a
// pending challenge was cancelled.
func (c *Controller) Discard() bool {
	c.mu.Lock()
	cur := c.current
	c.current = nil
	c.mu.Unlock()

	if cur == nil {
		return false
	}
	return cur.Cancel()
}
