package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Error is a terminal append failure.
type Error struct {
	Attempts int
	// Busy reports whether the last failure was contention (retries exhausted).
	Busy bool
	Err  error
}

func (e *Error) Error() string {
	if e.Busy {
		return fmt.Sprintf("store busy after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("store write failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsBusy reports whether err is a transient lock/contention condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return true
		}
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retry runs fn until it succeeds, fails with a non-busy error, or the policy
// is exhausted. The same input is re-submitted each time.
func retry(policy RetryPolicy, fn func() error, onRetry func(attempt int, err error)) (int, error) {
	attempt := 0
	for {
		attempt++
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if !IsBusy(err) || attempt > policy.Retries {
			return attempt, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if policy.Delay > 0 {
			time.Sleep(policy.Delay)
		}
	}
}
