package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests of the
// tracker's heartbeat and peer-expiry logic.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Up to 64 undelivered ticks queue per ticker so one Advance spanning
	// several periods delivers each of them; further ticks are dropped.
	t := &fakeTicker{c: make(chan time.Time, 64), period: d, next: f.now.Add(d)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	go func() {
		for {
			f.mu.Lock()
			reached := !f.now.Before(target)
			cur := f.now
			f.mu.Unlock()
			if reached {
				ch <- cur
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return ch
}

// Advance moves the fake clock forward by d, firing any tickers whose
// period has elapsed (possibly more than once if d spans multiple periods).
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.now.Add(d)
	for f.now.Before(target) {
		next := target
		for _, t := range f.tickers {
			if t.next.Before(next) {
				next = t.next
			}
		}
		f.now = next
		for _, t := range f.tickers {
			if !t.next.After(f.now) {
				select {
				case t.c <- f.now:
				default:
				}
				t.next = t.next.Add(t.period)
			}
		}
	}
}

type fakeTicker struct {
	c      chan time.Time
	period time.Duration
	next   time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()                  {}
