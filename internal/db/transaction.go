package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy bounds how often a transaction is retried while SQLite reports
// the database busy or locked. Backoff doubles per attempt up to MaxBackoff.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy fills zero fields of a RetryPolicy.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond, MaxBackoff: time.Second}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryPolicy.Backoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = max(p.Backoff, DefaultRetryPolicy.MaxBackoff)
	}
	return p
}

// Do calls fn until it succeeds, fails with a non-busy error, the attempts
// run out or ctx ends. fn receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	p = p.withDefaults()
	wait := p.Backoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(attempt)
		if err == nil || attempt >= p.Attempts || !isBusyError(err) {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, p.MaxBackoff)
	}
}

// TransactionWithRetry is Transaction under the database's retry policy.
func (db *DB) TransactionWithRetry(ctx context.Context, fn func(*sql.Tx) error) error {
	return db.retry.Do(ctx, func(attempt int) error {
		err := db.Transaction(ctx, fn)
		if err != nil && isBusyError(err) {
			db.logger.Debug().Err(err).Int("attempt", attempt).Msg("database busy")
		}
		return err
	})
}

var busyMessages = []string{"database is locked", "database is busy", "sqlite_busy"}

func isBusyError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := strings.ToLower(err.Error())
	for _, m := range busyMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
