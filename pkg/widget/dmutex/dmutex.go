// Package dmutex is a diagnostic mutual-exclusion primitive for the
// widget's shared state: an exclusive lock that, when contended past a
// short deadline, logs where the current holder acquired it from before
// going back to waiting indefinitely. Grounded on
// matrix-sdk-ui's DebugMutex, substituting runtime.Caller for Rust's
// #[track_caller] since Go has no caller-capture attribute.
package dmutex

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/kandev/widgetd/internal/logging"
	"go.uber.org/zap"
)

// DefaultTimeout is how long a Lock call waits before it starts logging
// about the current holder while it continues to wait.
const DefaultTimeout = 50 * time.Millisecond

// Mutex is an exclusive lock that attributes contention to a call site.
type Mutex struct {
	inner   sync.Mutex
	timeout time.Duration
	log     *logging.Logger

	holderMu sync.Mutex
	holder   string // "" if unlocked
}

// New builds a Mutex with the given contention-logging timeout. A zero
// timeout defaults to DefaultTimeout. A nil logger discards diagnostics.
func New(timeout time.Duration, log *logging.Logger) *Mutex {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Mutex{timeout: timeout, log: log}
}

// Lock acquires exclusive access and returns a release function the caller
// must invoke on every exit path. The call site is captured via
// runtime.Caller for use in contention diagnostics.
func (m *Mutex) Lock() (release func()) {
	caller := callerSite()

	acquired := make(chan struct{})
	go func() {
		m.inner.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(m.timeout):
		m.holderMu.Lock()
		holder := m.holder
		m.holderMu.Unlock()

		if holder != "" {
			m.log.Warn("dmutex: locking timed out", zap.String("locked_by", holder), zap.String("waiting_from", caller))
		} else {
			m.log.Error("dmutex: locking timed out, no caller info", zap.String("waiting_from", caller))
		}
		<-acquired
	}

	m.holderMu.Lock()
	m.holder = caller
	m.holderMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.holderMu.Lock()
			m.holder = ""
			m.holderMu.Unlock()
			m.inner.Unlock()
		})
	}
}

func callerSite() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", file, line)
}
