package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"geofence-tracker-backend/config"
	"geofence-tracker-backend/internal/alarm"
	"geofence-tracker-backend/internal/broadcast"
	"geofence-tracker-backend/internal/ingest"
	"geofence-tracker-backend/internal/model"
	"geofence-tracker-backend/internal/monitor"
	"geofence-tracker-backend/internal/settings"
	"geofence-tracker-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var exampleFrame = []byte{0x00, 0x36, 0x0E, 0x00, 0x13, 0x1A}

type fixedStatus monitor.Status

func (f fixedStatus) Status() monitor.Status { return monitor.Status(f) }

type failingUplinker struct{ err error }

func (f failingUplinker) HandleUplink(context.Context, []byte) (ingest.Ack, error) {
	return ingest.Ack{}, f.err
}

type testAPI struct {
	router *gin.Engine
	db     *gorm.DB
	deps   Deps
}

func newTestAPI(t *testing.T, mutate ...func(*Deps)) *testAPI {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.GPSRecord{}, &model.AppSetting{}, &model.PushSubscription{}))

	log := zerolog.Nop()
	s := store.NewGormStore(db, store.DefaultRetryPolicy, log)
	hub := broadcast.NewHub(nil, log)
	deps := Deps{
		Uplink:         ingest.NewPipeline(s, hub, log),
		Store:          s,
		Settings:       settings.New(db, log),
		Hub:            hub,
		UplinkMaxBytes: 64,
		Log:            log,
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	cfg := config.Default().Server
	cfg.RateLimitPerSec = 1000
	cfg.RateLimitBurst = 1000
	return &testAPI{router: NewRouter(NewHandler(deps), cfg, log), db: db, deps: deps}
}

func (a *testAPI) do(method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) json(method, path, body string) *httptest.ResponseRecorder {
	return a.do(method, path, "application/json", []byte(body))
}

func TestPostUplink(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/uplink", octetStream, exampleFrame)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rec model.GPSRecord
	require.NoError(t, a.db.First(&rec).Error)
	assert.Equal(t, 0.13838, rec.Latitude)
	assert.Equal(t, 0.0489, rec.Longitude)
	assert.NotZero(t, rec.Timestamp)
	assert.Nil(t, rec.RSSI)
	assert.Nil(t, rec.SNR)
}

func TestPostUplinkRejections(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		body        []byte
		status      int
	}{
		{name: "json body", contentType: "application/json", body: []byte(`{}`), status: http.StatusUnsupportedMediaType},
		{name: "no content type", body: exampleFrame, status: http.StatusUnsupportedMediaType},
		{name: "short frame", contentType: octetStream, body: []byte{0x00, 0x01, 0x02}, status: http.StatusBadRequest},
		{name: "empty frame", contentType: octetStream, body: nil, status: http.StatusBadRequest},
		{name: "oversized", contentType: octetStream, body: make([]byte, 65), status: http.StatusRequestEntityTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAPI(t)
			w := a.do(http.MethodPost, "/uplink", tc.contentType, tc.body)
			assert.Equal(t, tc.status, w.Code)

			var count int64
			require.NoError(t, a.db.Model(&model.GPSRecord{}).Count(&count).Error)
			assert.Zero(t, count)
		})
	}
}

func TestPostUplinkStoreFailure(t *testing.T) {
	a := newTestAPI(t, func(d *Deps) {
		d.Uplink = failingUplinker{err: &ingest.Failure{Kind: ingest.KindStore, Err: &store.Error{Attempts: 6, Busy: true, Err: errors.New("database is locked")}}}
	})

	w := a.do(http.MethodPost, "/uplink", octetStream, exampleFrame)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"failed to store data"}`, w.Body.String())
}

func TestSettingsRoutes(t *testing.T) {
	a := newTestAPI(t)

	w := a.json(http.MethodPut, "/api/settings/radius", `{"meters":100}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"home"`)

	w = a.json(http.MethodPut, "/api/settings/home", `{"latitude":55.5,"longitude":8.25}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"home":{"latitude":55.5,"longitude":8.25},"max_radius":null,"downtime_window":null}`, w.Body.String())

	w = a.json(http.MethodPut, "/api/settings/radius", `{"meters":100}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.json(http.MethodPut, "/api/settings/radius", `{"meters":12.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.json(http.MethodPut, "/api/settings/downtime", `{"start":"25:00","end":"07:00"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.json(http.MethodPut, "/api/settings/downtime", `{"start":"19:00","end":"07:00"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.json(http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"home":{"latitude":55.5,"longitude":8.25},
		"max_radius":100,
		"downtime_window":{"start":"19:00","end":"07:00"}
	}`, w.Body.String())

	w = a.json(http.MethodDelete, "/api/settings/colour", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.json(http.MethodDelete, "/api/settings/max_radius", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"max_radius":null`)
}

func TestSettingsNotifyMonitor(t *testing.T) {
	a := newTestAPI(t)
	var got []alarm.Config
	a.deps.Settings.Subscribe(func(cfg alarm.Config) { got = append(got, cfg) })

	w := a.json(http.MethodPut, "/api/settings/home", `{"latitude":1,"longitude":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].Home)
}

func TestGetStatus(t *testing.T) {
	a := newTestAPI(t)
	assert.Equal(t, http.StatusServiceUnavailable, a.json(http.MethodGet, "/api/status", "").Code)

	a = newTestAPI(t, func(d *Deps) {
		d.Monitor = fixedStatus{Alarm: "Active", Window: "7:00 PM to 7:00 AM", Radius: "100 meters", Triggered: true}
	})
	w := a.json(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"alarm":"Active",
		"downtime_window":"7:00 PM to 7:00 AM",
		"max_radius":"100 meters",
		"triggered":true,
		"home":null,
		"last_position":null
	}`, w.Body.String())
}

func TestGetLatestReading(t *testing.T) {
	a := newTestAPI(t)
	assert.Equal(t, http.StatusNotFound, a.json(http.MethodGet, "/api/readings/latest", "").Code)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/uplink", octetStream, exampleFrame).Code)

	w := a.json(http.MethodGet, "/api/readings/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec model.GPSRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 0.13838, rec.Latitude)
	assert.NotZero(t, rec.ID)
}

func TestPutSubscription(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPut, "/api/subscriptions", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestSubscriptionLifecycle(t *testing.T) {
	a := newTestAPI(t)
	endpoint := "https://push.example.com/send/abc%2Fdef"

	w := a.json(http.MethodPut, "/api/subscriptions", `{"endpoint":"`+endpoint+`","p256dh":"k1","auth":"a1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	// Re-registering replaces the keys.
	w = a.json(http.MethodPut, "/api/subscriptions", `{"endpoint":"`+endpoint+`","p256dh":"k2","auth":"a2"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var sub model.PushSubscription
	require.NoError(t, a.db.First(&sub, "endpoint = ?", endpoint).Error)
	assert.Equal(t, "k2", sub.P256DH)

	w = a.json(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), endpoint)

	assert.Equal(t, http.StatusBadRequest, a.json(http.MethodGet, "/api/subscriptions", "").Code)

	w = a.json(http.MethodDelete, "/api/subscriptions", `{"endpoint":"`+endpoint+`"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = a.json(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	a := newTestAPI(t)
	w := a.json(http.MethodGet, "/api/vapid_public_key", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"push notifications are disabled"}`, w.Body.String())

	// Options without a key count as disabled.
	a = newTestAPI(t, func(d *Deps) { d.Webpush = &webpush.Options{Subscriber: "mailto:ops@example.com"} })
	assert.Equal(t, http.StatusServiceUnavailable, a.json(http.MethodGet, "/api/vapid_public_key", "").Code)

	a = newTestAPI(t, func(d *Deps) {
		d.Webpush = &webpush.Options{VAPIDPublicKey: "BPub", Subscriber: "mailto:ops@example.com"}
	})
	w = a.json(http.MethodGet, "/api/vapid_public_key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"BPub","subject":"mailto:ops@example.com"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	w := a.json(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","viewers":0}`, w.Body.String())
}

func TestRawQueryParam(t *testing.T) {
	v, ok := rawQueryParam("a=1&endpoint=x%2Fy", "endpoint")
	assert.True(t, ok)
	assert.Equal(t, "x%2Fy", v)

	_, ok = rawQueryParam("endpointx=1", "endpoint")
	assert.False(t, ok)
}
