package services

import (
	"context"
	"time"

	"synchro/backend/internal/config"
	"synchro/backend/internal/repository"
)

// RateLimitExceededError is returned when a user has used up the daily
// analysis quota. ResetTime is the next UTC boundary at which the count
// resets.
type RateLimitExceededError struct {
	Message   string
	ResetTime time.Time
}

func (e *RateLimitExceededError) Error() string {
	return e.Message
}

// RateLimitStatus is the read-only view served to the UI.
type RateLimitStatus struct {
	CurrentCount      int       `json:"currentCount"`
	MaxDailyRequests  int       `json:"maxDailyRequests"`
	RemainingRequests int       `json:"remainingRequests"`
	ResetTime         time.Time `json:"resetTime"`
	IsLimitExceeded   bool      `json:"isLimitExceeded"`
}

// RateLimiter enforces the per-user daily cap on analysis requests. Day
// boundaries are a fixed UTC hour, never the user's local time: a request
// at 23:59 UTC and one at 00:01 UTC fall in different days.
type RateLimiter struct {
	repo repository.Repository
	cfg  config.RateLimitConfig
	now  func() time.Time
}

// NewRateLimiter creates a RateLimiter. The config is captured once here;
// the limiter never consults the environment again.
func NewRateLimiter(repo repository.Repository, cfg config.RateLimitConfig) *RateLimiter {
	if cfg.MaxDailyRequests <= 0 {
		cfg.MaxDailyRequests = 3
	}
	if cfg.Message == "" {
		cfg.Message = "Daily analysis limit reached. Try again after the reset."
	}
	return &RateLimiter{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
}

// currentDay returns the start of the rate-limit day containing t.
func (l *RateLimiter) currentDay(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), l.cfg.ResetHourUTC, 0, 0, 0, time.UTC)
	if t.Before(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// resetTime returns the next boundary after t.
func (l *RateLimiter) resetTime(t time.Time) time.Time {
	return l.currentDay(t).AddDate(0, 0, 1)
}

// GetUserDailyRequestCount reads the user's request count for the current
// day. A missing row counts as zero.
func (l *RateLimiter) GetUserDailyRequestCount(ctx context.Context, userID string) (int, error) {
	return l.repo.GetRequestCount(ctx, userID, l.currentDay(l.now()))
}

// CheckLimit fails with *RateLimitExceededError when the user's current
// count has reached the daily cap.
func (l *RateLimiter) CheckLimit(ctx context.Context, userID string) error {
	count, err := l.GetUserDailyRequestCount(ctx, userID)
	if err != nil {
		return err
	}
	if count >= l.cfg.MaxDailyRequests {
		return &RateLimitExceededError{
			Message:   l.cfg.Message,
			ResetTime: l.resetTime(l.now()),
		}
	}
	return nil
}

// RecordRequest counts one request against the user's current day. The
// underlying upsert is atomic on the (user, day) unique key.
func (l *RateLimiter) RecordRequest(ctx context.Context, userID string) error {
	now := l.now()
	return l.repo.IncrementRequestCount(ctx, userID, l.currentDay(now), now)
}

// Enforce performs check-then-record. Call it once per analysis start
// request, before any pipeline work begins.
func (l *RateLimiter) Enforce(ctx context.Context, userID string) error {
	if err := l.CheckLimit(ctx, userID); err != nil {
		return err
	}
	return l.RecordRequest(ctx, userID)
}

// Status returns the user's current quota usage for display.
func (l *RateLimiter) Status(ctx context.Context, userID string) (*RateLimitStatus, error) {
	count, err := l.GetUserDailyRequestCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	remaining := l.cfg.MaxDailyRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitStatus{
		CurrentCount:      count,
		MaxDailyRequests:  l.cfg.MaxDailyRequests,
		RemainingRequests: remaining,
		ResetTime:         l.resetTime(l.now()),
		IsLimitExceeded:   count >= l.cfg.MaxDailyRequests,
	}, nil
}
