package ratelimit

import (
	"context"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// Limiter caps outbound notifications per calendar day.
type Limiter interface {
	// Allow reports whether another notification fits under limit today, without counting it.
	Allow(ctx context.Context, now time.Time, limit int) (bool, error)
	// TryConsume counts one notification. It returns false and leaves the count alone once limit is reached.
	TryConsume(ctx context.Context, now time.Time, limit int) (bool, error)
	// Count returns the number of notifications counted for the day of now.
	Count(ctx context.Context, now time.Time) (int, error)
}

// Daily is an in-memory limiter keyed by the local calendar date.
type Daily struct {
	mu    sync.Mutex
	loc   *time.Location
	date  string
	count int
}

// NewDaily constructs a limiter. A nil location means time.Local.
func NewDaily(loc *time.Location) *Daily {
	if loc == nil {
		loc = time.Local
	}
	return &Daily{loc: loc}
}

// rollover resets the counter when the date of now differs. Callers hold mu.
func (d *Daily) rollover(now time.Time) {
	date := now.In(d.loc).Format(dateLayout)
	if date != d.date {
		d.date = date
		d.count = 0
	}
}

// Allow implements Limiter.
func (d *Daily) Allow(_ context.Context, now time.Time, limit int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover(now)
	return d.count < limit, nil
}

// TryConsume implements Limiter.
func (d *Daily) TryConsume(_ context.Context, now time.Time, limit int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover(now)
	if d.count >= limit {
		return false, nil
	}
	d.count++
	return true, nil
}

// Count implements Limiter.
func (d *Daily) Count(_ context.Context, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover(now)
	return d.count, nil
}

var _ Limiter = (*Daily)(nil)
