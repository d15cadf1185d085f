package transport

import "sync/atomic"

// CompletionToken is claimed exactly once, by the first path that observes a terminal status.
type CompletionToken struct {
	claimed atomic.Bool
	status  atomic.Pointer[string]
}

// NewCompletionToken returns an unclaimed token.
func NewCompletionToken() *CompletionToken {
	return &CompletionToken{}
}

// Claim marks the token as used for status. Only the first call returns true.
func (t *CompletionToken) Claim(status string) bool {
	if !t.claimed.CompareAndSwap(false, true) {
		return false
	}
	t.status.Store(&status)
	return true
}

// Done reports whether the token has been claimed.
func (t *CompletionToken) Done() bool {
	return t.claimed.Load()
}

// Status returns the terminal status the token was claimed with, or "".
func (t *CompletionToken) Status() string {
	if s := t.status.Load(); s != nil {
		return *s
	}
	return ""
}
