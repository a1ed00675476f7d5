package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// MinEpoch is 2000-01-01T00:00:00Z. Earlier times mean the clock was never set.
const MinEpoch int64 = 946684800

var (
	ErrNoServers = errors.New("no NTP servers configured")
	ErrNotSynced = errors.New("NTP sync failed")
)

// QueryFunc asks one NTP server for the offset of the local clock.
type QueryFunc func(host string, timeout time.Duration) (time.Duration, error)

type Options struct {
	Servers      []string
	RequireSync  bool
	MaxTries     int
	RetryDelay   time.Duration
	QueryTimeout time.Duration
	// SyncTimeout bounds a whole Sync call, all rounds included.
	SyncTimeout time.Duration
	Location    *time.Location
}

// Clock is wall time disciplined by NTP. Until the first successful sync a
// clock that requires NTP counts from the Unix epoch, like a board that has
// just booted.
type Clock struct {
	opts  Options
	query QueryFunc
	local func() time.Time
	start time.Time

	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

func New(opts Options) *Clock {
	if opts.Location == nil {
		opts.Location = time.Local
	}

	if opts.MaxTries <= 0 {
		opts.MaxTries = 1
	}

	return &Clock{
		opts:  opts,
		query: queryNTP,
		local: time.Now,
		start: time.Now(),
	}
}

func queryNTP(host string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", host, err)
	}

	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("validate %s: %w", host, err)
	}

	return resp.ClockOffset, nil
}

// Now returns the current time in the configured location.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	offset, synced := c.offset, c.synced
	c.mu.RUnlock()

	now := c.local()

	if !synced && c.opts.RequireSync {
		return time.Unix(0, 0).Add(now.Sub(c.start)).In(c.opts.Location)
	}

	return now.Add(offset).In(c.opts.Location)
}

// Valid reports whether t is past the sanity epoch.
func Valid(t time.Time) bool {
	return t.Unix() >= MinEpoch
}

func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.synced
}

// Sync queries the servers in order until one answers, making at most
// MaxTries rounds spaced by RetryDelay and giving up after SyncTimeout.
// A failed sync keeps the previous offset.
func (c *Clock) Sync(ctx context.Context) error {
	if len(c.opts.Servers) == 0 {
		return ErrNoServers
	}

	if c.opts.SyncTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.opts.SyncTimeout)
		defer cancel()
	}

	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxTries; attempt++ {
		for _, host := range c.opts.Servers {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrNotSynced, err)
			}

			offset, err := c.query(host, queryTimeout(ctx, c.opts.QueryTimeout))
			if err != nil {
				lastErr = err
				slog.DebugContext(ctx, "ntp query failed", "server", host, "attempt", attempt, "err", err)

				continue
			}

			c.mu.Lock()
			c.offset = offset
			c.synced = true
			c.mu.Unlock()

			slog.InfoContext(ctx, "ntp time synchronized", "server", host, "offset", offset, "now", c.Now())

			return nil
		}

		if attempt == c.opts.MaxTries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotSynced, ctx.Err())
		case <-time.After(c.opts.RetryDelay):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrNotSynced, c.opts.MaxTries, lastErr)
}

// queryTimeout shrinks timeout so that a query cannot outlive ctx.
func queryTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return timeout
	}

	if left := time.Until(deadline); timeout <= 0 || left < timeout {
		return left
	}

	return timeout
}

// LoadLocation accepts "Local", "UTC", a fixed offset such as "+08:00" or an
// IANA zone name.
func LoadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}

	if strings.HasPrefix(name, "+") || strings.HasPrefix(name, "-") {
		t, err := time.Parse("-07:00", name)
		if err != nil {
			return nil, fmt.Errorf("parse offset %q: %w", name, err)
		}

		_, offset := t.Zone()

		return time.FixedZone("UTC"+name, offset), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}

	return loc, nil
}
