// Package governance gates tool invocations: per-plan rate limiting over
// the usage logs and request threat screening. Both components fail open
// on backend errors so that governance never takes the service down.
package governance

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/appledex/appledex/pkg/types"
)

// EventCounter is the usage-log aggregation the limiter depends on.
type EventCounter interface {
	CountEvents(ctx context.Context, identifier string, since time.Time) (int64, error)
}

// LimitConfig holds rate-limiter settings.
type LimitConfig struct {
	// WeekStart is the weekday on which the weekly window resets.
	WeekStart time.Weekday

	// Location resolves the week boundary. Defaults to UTC.
	Location *time.Location
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed bool

	// LimitType is "minute" or "weekly" when denied, empty otherwise.
	LimitType string

	Plan types.PlanName

	WeeklyLimit   int64
	MinuteLimit   int64
	WeeklyUsed    int64
	MinuteUsed    int64
	WeeklyResetAt time.Time
	MinuteResetAt time.Time
}

// WeeklyRemaining returns the requests left in the weekly window, or -1
// when the plan is unlimited.
func (d Decision) WeeklyRemaining() int64 {
	return remaining(d.WeeklyLimit, d.WeeklyUsed)
}

// MinuteRemaining returns the requests left in the minute window, or -1
// when the plan is unlimited.
func (d Decision) MinuteRemaining() int64 {
	return remaining(d.MinuteLimit, d.MinuteUsed)
}

func remaining(limit, used int64) int64 {
	if limit < 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// RateLimiter enforces per-plan quotas over two windows: the current
// week and the trailing 60 seconds. The usage logs are the source of
// truth; the limiter never increments a counter itself.
type RateLimiter struct {
	counter EventCounter
	cfg     LimitConfig
	now     func() time.Time
}

// NewRateLimiter builds a limiter over the given usage-log counter.
func NewRateLimiter(counter EventCounter, cfg LimitConfig) *RateLimiter {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &RateLimiter{counter: counter, cfg: cfg, now: time.Now}
}

// Check decides whether the identified caller may proceed. The two
// window counts run concurrently. Any backend error fails open with an
// unknown plan and unlimited quotas.
func (l *RateLimiter) Check(ctx context.Context, id types.Identity) Decision {
	now := l.now().In(l.cfg.Location)
	plan := types.LookupPlan(id.Plan)

	weekStart := l.weekStart(now)
	minuteStart := now.Add(-60 * time.Second)

	var weekUsed, minuteUsed int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := l.counter.CountEvents(gctx, id.UserID, weekStart)
		weekUsed = n
		return err
	})
	g.Go(func() error {
		n, err := l.counter.CountEvents(gctx, id.UserID, minuteStart)
		minuteUsed = n
		return err
	})
	if err := g.Wait(); err != nil {
		slog.Warn("rate limit backend error, failing open",
			slog.String("identifier", id.UserID),
			slog.String("error", err.Error()))
		return Decision{
			Allowed:     true,
			Plan:        types.PlanUnknown,
			WeeklyLimit: -1,
			MinuteLimit: -1,
			WeeklyUsed:  -1,
			MinuteUsed:  -1,
		}
	}

	weeklyQuota := int64(plan.WeeklyQuota)
	minuteQuota := int64(plan.MinuteQuota)

	d := Decision{
		Plan:          id.Plan,
		WeeklyLimit:   weeklyQuota,
		MinuteLimit:   minuteQuota,
		WeeklyUsed:    weekUsed,
		MinuteUsed:    minuteUsed,
		WeeklyResetAt: weekStart.AddDate(0, 0, 7),
		MinuteResetAt: now.Truncate(time.Minute).Add(time.Minute),
	}

	weekOK := weeklyQuota == -1 || weekUsed < weeklyQuota
	minuteOK := minuteQuota == -1 || minuteUsed < minuteQuota

	switch {
	case weekOK && minuteOK:
		d.Allowed = true
	case !minuteOK:
		// Minute exhaustion takes precedence when both windows are full.
		d.LimitType = "minute"
	default:
		d.LimitType = "weekly"
	}
	return d
}

// weekStart returns midnight of the most recent configured weekday at or
// before now, in the limiter's location.
func (l *RateLimiter) weekStart(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.cfg.Location)
	daysBack := int(now.Weekday()-l.cfg.WeekStart+7) % 7
	return midnight.AddDate(0, 0, -daysBack)
}
