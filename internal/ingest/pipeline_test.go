package ingest

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"geofence-tracker-backend/internal/broadcast"
	"geofence-tracker-backend/internal/codec"
	"geofence-tracker-backend/internal/model"
	"geofence-tracker-backend/internal/store"
)

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	readings []model.Reading
}

func (b *recordingBroadcaster) Publish(r model.Reading) broadcast.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readings = append(b.readings, r)
	return broadcast.Delivery{Delivered: 1}
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}

var exampleFrame = []byte{0x00, 0x36, 0x0E, 0x00, 0x13, 0x1A, 0xFF, 0xFF}

var fixedNow = time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)

func newMockPipeline(t *testing.T) (*Pipeline, sqlmock.Sqlmock, *recordingBroadcaster) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	bc := &recordingBroadcaster{}
	s := store.NewGormStore(gormDB, store.RetryPolicy{Retries: 5, Delay: time.Millisecond}, zerolog.Nop())
	p := NewPipeline(s, bc, zerolog.Nop())
	p.now = func() time.Time { return fixedNow }
	return p, mock, bc
}

var insertSQL = regexp.QuoteMeta(`INSERT INTO "gps_data"`)

func expectBusy(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(insertSQL).
			WithArgs(Any{}, Any{}, Any{}, Any{}, Any{}).
			WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})
		mock.ExpectRollback()
	}
}

func expectInsert(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(insertSQL).
		WithArgs(0.13838, 0.0489, fixedNow.Unix(), nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectCommit()
}

func TestHandleUplink_StoresThenBroadcasts(t *testing.T) {
	p, mock, bc := newMockPipeline(t)
	expectInsert(mock, 42)

	ack, err := p.HandleUplink(context.Background(), exampleFrame)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ack.Record.ID)
	assert.Equal(t, fixedNow.Unix(), ack.Record.Timestamp)
	assert.Equal(t, 1, ack.Delivery.Delivered)

	require.Equal(t, 1, bc.count())
	assert.Equal(t, model.Reading{Latitude: 0.13838, Longitude: 0.0489, CapturedAt: fixedNow.Unix()}, bc.readings[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleUplink_DecodeFailureTouchesNothing(t *testing.T) {
	p, mock, bc := newMockPipeline(t)

	_, err := p.HandleUplink(context.Background(), []byte{0x01, 0x02})
	require.Error(t, err)

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, KindDecode, f.Kind)
	assert.ErrorIs(t, err, codec.ErrPayloadTooShort)

	assert.Zero(t, bc.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleUplink_RetryBound(t *testing.T) {
	t.Run("busy four times then succeeds", func(t *testing.T) {
		p, mock, bc := newMockPipeline(t)
		expectBusy(mock, 4)
		expectInsert(mock, 1)

		_, err := p.HandleUplink(context.Background(), exampleFrame)
		require.NoError(t, err)
		assert.Equal(t, 1, bc.count())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("busy six times is terminal", func(t *testing.T) {
		p, mock, bc := newMockPipeline(t)
		expectBusy(mock, 6)

		_, err := p.HandleUplink(context.Background(), exampleFrame)
		require.Error(t, err)

		var f *Failure
		require.True(t, errors.As(err, &f))
		assert.Equal(t, KindStore, f.Kind)

		var storeErr *store.Error
		require.True(t, errors.As(err, &storeErr))
		assert.True(t, storeErr.Busy)
		assert.Equal(t, 6, storeErr.Attempts)

		assert.Zero(t, bc.count())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHandleUplink_CompletesAfterCallerCancels(t *testing.T) {
	gormDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, gormDB.AutoMigrate(&model.GPSRecord{}))

	bc := &recordingBroadcaster{}
	s := store.NewGormStore(gormDB, store.DefaultRetryPolicy, zerolog.Nop())
	p := NewPipeline(s, bc, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ack, err := p.HandleUplink(ctx, exampleFrame)
	require.NoError(t, err)
	assert.NotZero(t, ack.Record.ID)
	assert.Equal(t, 1, bc.count())

	latest, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ack.Record.ID, latest.ID)
}

func TestHandleUplink_NilBroadcaster(t *testing.T) {
	p, mock, _ := newMockPipeline(t)
	p.bc = nil
	expectInsert(mock, 5)

	ack, err := p.HandleUplink(context.Background(), exampleFrame)
	require.NoError(t, err)
	assert.Equal(t, broadcast.Delivery{}, ack.Delivery)
}

type fakeSubscriber struct {
	topic string
	qos   byte
	fn    func(topic string, payload []byte)
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, fn func(string, []byte)) error {
	f.topic, f.qos, f.fn = topic, qos, fn
	return nil
}

func TestSubscribeUplinks(t *testing.T) {
	p, mock, bc := newMockPipeline(t)
	sub := &fakeSubscriber{}

	require.NoError(t, SubscribeUplinks(context.Background(), sub, "tracker/uplink", 1, p, zerolog.Nop()))
	assert.Equal(t, "tracker/uplink", sub.topic)
	assert.Equal(t, byte(1), sub.qos)

	expectInsert(mock, 9)
	sub.fn("tracker/uplink", exampleFrame)
	// A bad frame is dropped without a store attempt.
	sub.fn("tracker/uplink", []byte{0x00})

	assert.Equal(t, 1, bc.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}
