package service

import (
	"context"
	"time"

	"predmarket/internal/aiconfig"
	"predmarket/internal/repository"
)

// ConfigSource yields the current pipeline configuration. Get never fails;
// a stale or unreadable store falls back to compiled-in defaults.
type ConfigSource interface {
	Get(ctx context.Context) aiconfig.AIConfig
}

// Verdict reports a rate-limit decision with the window that produced it.
type Verdict struct {
	Allowed      bool   `json:"allowed"`
	CurrentCount int64  `json:"current_count"`
	Limit        int    `json:"limit"`
	Window       string `json:"window"`
}

// RateLimiter counts recent rows in storage against the configured limits.
// The database is the single counting source so every process instance sees
// the same windows.
type RateLimiter struct {
	Repo   repository.Repository
	Config ConfigSource
	Now    func() time.Time
}

func (l *RateLimiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *RateLimiter) limits(ctx context.Context) aiconfig.RateLimits {
	if l != nil && l.Config != nil {
		return l.Config.Get(ctx).RateLimits
	}
	return aiconfig.Defaults().RateLimits
}

// CanPropose checks the submitter's minute, hour and day windows in order
// and reports the first window that is exhausted. A zero limit disables the
// corresponding window.
func (l *RateLimiter) CanPropose(ctx context.Context, submitter string) (Verdict, error) {
	if l == nil || l.Repo == nil {
		return Verdict{Allowed: true}, nil
	}
	limits := l.limits(ctx)
	now := l.now()
	windows := []struct {
		name  string
		since time.Time
		limit int
	}{
		{"minute", now.Add(-time.Minute), limits.ProposePerMinute},
		{"hour", now.Add(-time.Hour), limits.ProposePerHour},
		{"day", now.Add(-24 * time.Hour), limits.ProposePerDay},
	}
	verdict := Verdict{Allowed: true}
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		count, err := l.Repo.CountProposalsSince(ctx, submitter, w.since)
		if err != nil {
			return Verdict{}, err
		}
		verdict = Verdict{Allowed: count < int64(w.limit), CurrentCount: count, Limit: w.limit, Window: w.name}
		if !verdict.Allowed {
			return verdict, nil
		}
	}
	return verdict, nil
}

// CanDispute checks the disputant's hour and day windows.
func (l *RateLimiter) CanDispute(ctx context.Context, disputant string) (Verdict, error) {
	if l == nil || l.Repo == nil {
		return Verdict{Allowed: true}, nil
	}
	limits := l.limits(ctx)
	now := l.now()
	windows := []struct {
		name  string
		since time.Time
		limit int
	}{
		{"hour", now.Add(-time.Hour), limits.DisputePerHour},
		{"day", now.Add(-24 * time.Hour), limits.DisputePerDay},
	}
	verdict := Verdict{Allowed: true}
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		count, err := l.Repo.CountDisputesSince(ctx, disputant, w.since)
		if err != nil {
			return Verdict{}, err
		}
		verdict = Verdict{Allowed: count < int64(w.limit), CurrentCount: count, Limit: w.limit, Window: w.name}
		if !verdict.Allowed {
			return verdict, nil
		}
	}
	return verdict, nil
}

// CanAutoPublish gates validator auto-activation by the hourly count of
// markets published without a human reviewer.
func (l *RateLimiter) CanAutoPublish(ctx context.Context) (Verdict, error) {
	if l == nil || l.Repo == nil {
		return Verdict{Allowed: true}, nil
	}
	limit := l.limits(ctx).AutoPublishPerHour
	if limit <= 0 {
		return Verdict{Allowed: true, Window: "hour"}, nil
	}
	count, err := l.Repo.CountAutoPublishedSince(ctx, l.now().Add(-time.Hour))
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Allowed: count < int64(limit), CurrentCount: count, Limit: limit, Window: "hour"}, nil
}
