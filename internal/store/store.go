package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"geofence-tracker-backend/internal/model"
)

// Store defines the persistence operations for location readings.
type Store interface {
	Append(ctx context.Context, r model.Reading) (model.GPSRecord, error)
	Latest(ctx context.Context) (*model.GPSRecord, error)
	DB() *gorm.DB
}

// RetryPolicy bounds how often a contended write is retried.
// Retries counts attempts after the first one.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

// DefaultRetryPolicy matches an embedded single-writer engine: short, bounded
// contention windows, fixed step-back.
var DefaultRetryPolicy = RetryPolicy{Retries: 5, Delay: 100 * time.Millisecond}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db     *gorm.DB
	policy RetryPolicy
	log    zerolog.Logger

	// wmu serializes appends so one writer's records land in arrival order.
	wmu sync.Mutex
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, policy RetryPolicy, log zerolog.Logger) Store {
	return &gormStore{
		db:     db,
		policy: policy,
		log:    log.With().Str("module", "store").Logger(),
	}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Append persists a reading, retrying on contention. Signal-quality fields
// are left NULL: the frame does not carry them.
func (s *gormStore) Append(ctx context.Context, r model.Reading) (model.GPSRecord, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var rec model.GPSRecord
	attempts, err := retry(s.policy, func() error {
		rec = model.GPSRecord{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Timestamp: r.CapturedAt,
		}
		return s.db.WithContext(ctx).Create(&rec).Error
	}, func(attempt int, err error) {
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("database is locked, retrying")
	})
	if err != nil {
		return model.GPSRecord{}, &Error{Attempts: attempts, Busy: IsBusy(err), Err: err}
	}

	s.log.Debug().
		Int64("id", rec.ID).
		Float64("lat", rec.Latitude).
		Float64("lng", rec.Longitude).
		Int64("timestamp", rec.Timestamp).
		Int("attempts", attempts).
		Msg("inserted reading")
	return rec, nil
}

// Latest returns the most recent record, or nil when the table is empty.
func (s *gormStore) Latest(ctx context.Context) (*model.GPSRecord, error) {
	var rec model.GPSRecord
	err := s.db.WithContext(ctx).Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest reading: %w", err)
	}
	return &rec, nil
}
