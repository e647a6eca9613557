package gateway

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

func (s state) String() string {
	switch s {
	case open:
		return "open"
	case halfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// MicroBreaker trips after failThreshold consecutive failures and lets a
// single probe through once openFor has elapsed.
type MicroBreaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
	now              func() time.Time
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

// TryAcquire reports whether a call may go out now.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if b.now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
		b.probeInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
	}
}

func (b *MicroBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.String()
}

// breakers keeps one breaker per gateway channel so a banned or logged-out
// session does not stall the others.
type breakers struct {
	mu        sync.Mutex
	m         map[string]*MicroBreaker
	threshold int
	openFor   time.Duration
}

func newBreakers(threshold int, openFor time.Duration) *breakers {
	return &breakers{m: make(map[string]*MicroBreaker), threshold: threshold, openFor: openFor}
}

func (b *breakers) get(channel string) *MicroBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	br, ok := b.m[channel]
	if !ok {
		br = NewMicroBreaker(b.threshold, b.openFor)
		b.m[channel] = br
	}
	return br
}
