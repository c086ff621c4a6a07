// Package lifecycle defines the shutdown timeout domain shared by the capsule
// and every collaborator it owns.
//
// The timeout value is a three-way variant rather than an overloaded number:
//
//   - UseDefault: substitute the configured shutdown timeout
//   - Async: request shutdown and return immediately, without waiting
//   - Wait(d): d < 0 blocks until in-flight work completes (no interruption),
//     d == 0 interrupts in-flight work immediately,
//     d > 0 waits up to d for graceful completion, then interrupts
package lifecycle

import (
	"fmt"
	"time"
)

type timeoutKind uint8

const (
	kindDefault timeoutKind = iota
	kindAsync
	kindWait
)

// Timeout selects how long a shutdown call may block.
// The zero value is UseDefault.
type Timeout struct {
	kind timeoutKind
	d    time.Duration
}

// UseDefault defers to the configured shutdown timeout.
func UseDefault() Timeout { return Timeout{kind: kindDefault} }

// Async requests shutdown and returns without waiting.
func Async() Timeout { return Timeout{kind: kindAsync} }

// Wait bounds the shutdown wait. d < 0 waits forever, d == 0 interrupts
// immediately, d > 0 is a graceful window before interruption.
func Wait(d time.Duration) Timeout { return Timeout{kind: kindWait, d: d} }

// WaitForever blocks until in-flight work completes, with no interruption.
func WaitForever() Timeout { return Wait(-1) }

// Immediate interrupts in-flight work right away.
func Immediate() Timeout { return Wait(0) }

func (t Timeout) IsDefault() bool { return t.kind == kindDefault }
func (t Timeout) IsAsync() bool   { return t.kind == kindAsync }

// Duration returns the wait bound. ok is false for UseDefault and Async.
func (t Timeout) Duration() (d time.Duration, ok bool) {
	if t.kind != kindWait {
		return 0, false
	}
	return t.d, true
}

// Resolve substitutes def for UseDefault. An unresolvable default falls back
// to WaitForever so shutdown never silently becomes asynchronous.
func (t Timeout) Resolve(def Timeout) Timeout {
	if t.kind != kindDefault {
		return t
	}
	if def.kind == kindDefault {
		return WaitForever()
	}
	return def
}

func (t Timeout) String() string {
	switch t.kind {
	case kindAsync:
		return "async"
	case kindWait:
		if t.d < 0 {
			return "wait"
		}
		return t.d.String()
	default:
		return "default"
	}
}

// Collaborator is the shutdown contract every capsule-owned subsystem
// implements. Shutdown must be idempotent; IsShutdown must be safe to call at
// any time, including before the first Shutdown.
type Collaborator interface {
	Shutdown(t Timeout) error
	IsShutdown() bool
}

// Drain applies the uniform timeout policy on top of a collaborator's own
// stop machinery.
//
// The caller must already have signaled a graceful stop (no new intake) before
// calling Drain. done must close once all in-flight work has finished;
// interrupt must force in-flight work to stop promptly and may be called more
// than once.
//
// Drain reports whether done closed within the policy's bounds. For Async it
// returns immediately without waiting.
func Drain(t Timeout, done <-chan struct{}, interrupt func()) bool {
	if t.IsAsync() {
		return false
	}
	d, ok := t.Duration()
	if !ok {
		// UseDefault reaching a collaborator is a wiring bug; be conservative.
		d = -1
	}

	switch {
	case d < 0:
		<-done
		return true
	case d == 0:
		if interrupt != nil {
			interrupt()
		}
		<-done
		return true
	default:
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-done:
			return true
		case <-timer.C:
			if interrupt != nil {
				interrupt()
			}
			<-done
			return true
		}
	}
}

// ParseTimeout reads the config surface form of a Timeout:
// "" or "default", "async", "-1" (wait forever), or any Go duration string.
func ParseTimeout(raw string) (Timeout, error) {
	switch raw {
	case "", "default":
		return UseDefault(), nil
	case "async":
		return Async(), nil
	case "-1":
		return WaitForever(), nil
	case "0":
		return Immediate(), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return Timeout{}, fmt.Errorf("invalid shutdown timeout %q: %w", raw, err)
	}
	if d < 0 {
		return WaitForever(), nil
	}
	return Wait(d), nil
}
