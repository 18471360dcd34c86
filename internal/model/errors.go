package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfiguration marks configuration-validation failures. They are
// surfaced to the caller before any work begins and are fatal to that single
// call only.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// CooldownError is returned when discovery is started again before the
// cooldown since the previous run has elapsed. Recoverable: retry after
// Remaining.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("discovery cooldown active, retry in %s", e.Remaining.Round(time.Millisecond))
}

// RateLimitError is returned when the per-minute discovery volume exceeds the
// configured limit. Recoverable: back off until Reset.
type RateLimitError struct {
	Limit int
	Count int
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("discovery rate limit exceeded (%d/%d), window resets at %s",
		e.Count, e.Limit, e.Reset.Format(time.RFC3339))
}

// InsufficientDataError is returned when a baseline build is attempted with
// fewer historical scans than the configured minimum.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient history for baseline: have %d scans, need %d", e.Have, e.Need)
}

// OutOfOrderSnapshotError is returned when a snapshot for a device key is
// submitted with a timestamp not after the most recent recorded one.
// Consecutive snapshots are only ever diffed in timestamp order.
type OutOfOrderSnapshotError struct {
	Key  string
	Have time.Time
	Got  time.Time
}

func (e *OutOfOrderSnapshotError) Error() string {
	return fmt.Sprintf("out-of-order snapshot for %s: have %s, got %s",
		e.Key, e.Have.Format(time.RFC3339Nano), e.Got.Format(time.RFC3339Nano))
}
