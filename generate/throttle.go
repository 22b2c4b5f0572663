package generate

import (
	"sync"
	"time"
)

// deliverer rate-limits content delivery during streaming: at most one
// delivery per interval, with a trailing timer so the newest content
// still lands once the interval elapses. Flush pushes whatever is
// pending immediately; Stop discards it.
type deliverer struct {
	interval time.Duration
	send     func(content string)

	mu       sync.Mutex
	pending  string
	hasPend  bool
	lastSent time.Time
	timer    *time.Timer
	stopped  bool
}

func newDeliverer(interval time.Duration, send func(content string)) *deliverer {
	return &deliverer{interval: interval, send: send}
}

// Offer hands the deliverer the newest full content. It is sent now if
// the interval has passed, otherwise kept for the trailing edge.
func (d *deliverer) Offer(content string) {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	elapsed := time.Since(d.lastSent)
	if elapsed >= d.interval {
		d.lastSent = time.Now()
		d.hasPend = false
		d.mu.Unlock()
		d.send(content)
		return
	}

	d.pending = content
	d.hasPend = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval-elapsed, d.fire)
	}
	d.mu.Unlock()
}

func (d *deliverer) fire() {
	d.mu.Lock()

	d.timer = nil
	if d.stopped || !d.hasPend {
		d.mu.Unlock()
		return
	}
	content := d.pending
	d.hasPend = false
	d.lastSent = time.Now()
	d.mu.Unlock()

	d.send(content)
}

// Flush sends any pending content immediately and stops the trailing
// timer. Called when a stream ends normally so the last delta is never
// lost to the rate limit.
func (d *deliverer) Flush() {
	d.mu.Lock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.stopped || !d.hasPend {
		d.mu.Unlock()
		return
	}
	content := d.pending
	d.hasPend = false
	d.lastSent = time.Now()
	d.mu.Unlock()

	d.send(content)
}

// Stop discards pending content without sending. Called on cancel: the
// transcript keeps what was already delivered, nothing more.
func (d *deliverer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.stopped = true
	d.hasPend = false
}
