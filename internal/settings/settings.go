// Package settings is the last-write-wins configuration surface for the
// alarm: home coordinate, maximum radius and downtime window.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"geofence-tracker-backend/internal/alarm"
	"geofence-tracker-backend/internal/model"
)

const (
	KeyHome      = "home"
	KeyMaxRadius = "max_radius"
	KeyDowntime  = "downtime_window"
)

var keys = []string{KeyHome, KeyMaxRadius, KeyDowntime}

const currentKey = "current"

// HomeInput sets the home coordinate.
type HomeInput struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// RadiusInput sets the maximum radius in whole meters.
type RadiusInput struct {
	Meters int `json:"meters" validate:"required,gt=0"`
}

// DowntimeInput sets the downtime window as two 24-hour HH:MM strings.
type DowntimeInput struct {
	Start string `json:"start" validate:"required,hhmm"`
	End   string `json:"end" validate:"required,hhmm"`
}

// ValidationError is a rejected configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Service reads and writes settings.
type Service struct {
	db       *gorm.DB
	cache    *cache.Cache
	validate *validator.Validate
	log      zerolog.Logger

	mu   sync.RWMutex
	subs []func(alarm.Config)
}

// New creates a settings service over the app_settings table.
func New(db *gorm.DB, log zerolog.Logger) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := alarm.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})

	return &Service{
		db:       db,
		cache:    cache.New(5*time.Minute, 10*time.Minute),
		validate: v,
		log:      log.With().Str("module", "settings").Logger(),
	}
}

// Subscribe registers fn to be called with the new configuration after
// every successful write.
func (s *Service) Subscribe(fn func(alarm.Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Current returns the configuration. Unset values are nil.
func (s *Service) Current(ctx context.Context) (alarm.Config, error) {
	if v, ok := s.cache.Get(currentKey); ok {
		return v.(alarm.Config), nil
	}

	var rows []model.AppSetting
	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Find(&rows).Error; err != nil {
		return alarm.Config{}, fmt.Errorf("failed to load settings: %w", err)
	}

	var cfg alarm.Config
	for _, row := range rows {
		if err := decodeInto(&cfg, row); err != nil {
			// A corrupt row is treated as unset rather than failing every read.
			s.log.Warn().Err(err).Str("key", row.Key).Msg("ignoring unreadable setting")
		}
	}
	s.cache.SetDefault(currentKey, cfg)
	return cfg, nil
}

func decodeInto(cfg *alarm.Config, row model.AppSetting) error {
	switch row.Key {
	case KeyHome:
		var c alarm.Coordinate
		if err := json.Unmarshal([]byte(row.Value), &c); err != nil {
			return err
		}
		cfg.Home = &c
	case KeyMaxRadius:
		var meters int
		if err := json.Unmarshal([]byte(row.Value), &meters); err != nil {
			return err
		}
		r := float64(meters)
		cfg.MaxRadius = &r
	case KeyDowntime:
		var w alarm.Window
		if err := json.Unmarshal([]byte(row.Value), &w); err != nil {
			return err
		}
		cfg.Window = &w
	}
	return nil
}

// SetHome stores the home coordinate.
func (s *Service) SetHome(ctx context.Context, in HomeInput) (alarm.Config, error) {
	if err := s.check(in); err != nil {
		return alarm.Config{}, err
	}
	return s.put(ctx, KeyHome, alarm.Coordinate{Latitude: *in.Latitude, Longitude: *in.Longitude})
}

// SetRadius stores the maximum radius. A home must be set first.
func (s *Service) SetRadius(ctx context.Context, in RadiusInput) (alarm.Config, error) {
	if err := s.check(in); err != nil {
		return alarm.Config{}, err
	}
	if err := s.requireHome(ctx); err != nil {
		return alarm.Config{}, err
	}
	return s.put(ctx, KeyMaxRadius, in.Meters)
}

// SetDowntime stores the downtime window. A home must be set first.
func (s *Service) SetDowntime(ctx context.Context, in DowntimeInput) (alarm.Config, error) {
	if err := s.check(in); err != nil {
		return alarm.Config{}, err
	}
	if err := s.requireHome(ctx); err != nil {
		return alarm.Config{}, err
	}
	w, err := alarm.ParseWindow(in.Start, in.End)
	if err != nil {
		return alarm.Config{}, &ValidationError{Field: "downtime_window", Reason: err.Error()}
	}
	return s.put(ctx, KeyDowntime, w)
}

// Clear removes one setting.
func (s *Service) Clear(ctx context.Context, key string) (alarm.Config, error) {
	if !isKey(key) {
		return alarm.Config{}, &ValidationError{Field: "key", Reason: fmt.Sprintf("unknown setting %q", key)}
	}
	if err := s.db.WithContext(ctx).Delete(&model.AppSetting{Key: key}).Error; err != nil {
		return alarm.Config{}, fmt.Errorf("failed to clear %s: %w", key, err)
	}
	s.log.Info().Str("key", key).Msg("setting cleared")
	return s.changed(ctx)
}

func (s *Service) put(ctx context.Context, key string, value any) (alarm.Config, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return alarm.Config{}, err
	}

	row := model.AppSetting{Key: key, Value: string(raw), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return alarm.Config{}, fmt.Errorf("failed to save %s: %w", key, err)
	}

	s.log.Info().Str("key", key).RawJSON("value", raw).Msg("setting saved")
	return s.changed(ctx)
}

func (s *Service) changed(ctx context.Context) (alarm.Config, error) {
	s.cache.Delete(currentKey)
	cfg, err := s.Current(ctx)
	if err != nil {
		return alarm.Config{}, err
	}

	s.mu.RLock()
	subs := slices.Clone(s.subs)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(cfg)
	}
	return cfg, nil
}

func (s *Service) requireHome(ctx context.Context) error {
	cfg, err := s.Current(ctx)
	if err != nil {
		return err
	}
	if cfg.Home == nil {
		return &ValidationError{Field: "home", Reason: "set the home location first"}
	}
	return nil
}

func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
	}
	return err
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "hhmm":
		return "must be HH:MM in 24-hour format"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag()
}

func isKey(k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
