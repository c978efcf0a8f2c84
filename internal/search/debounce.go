package search

import (
	"sync"
	"time"
)

// Debouncer delivers the last value passed to Trigger once no further
// Trigger call arrives within the delay.
type Debouncer struct {
	delay time.Duration
	fire  func(value string)

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	stopped bool
}

func NewDebouncer(delay time.Duration, fire func(value string)) *Debouncer {
	return &Debouncer{delay: delay, fire: fire}
}

func (d *Debouncer) Trigger(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.seq++
	id := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		stale := d.stopped || id != d.seq
		d.mu.Unlock()
		if stale {
			return
		}
		d.fire(value)
	})
}

// Stop cancels any pending delivery. Later Trigger calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
