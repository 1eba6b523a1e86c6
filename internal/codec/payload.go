// Package codec decodes the fixed-size binary uplink frame sent by the tracker.
package codec

import (
	"errors"
	"fmt"
	"math"

	"geofence-tracker-backend/internal/model"
)

// FrameSize is the number of bytes the decoder reads. Longer frames are
// accepted and the trailing bytes ignored.
const FrameSize = 6

// scale converts the raw integer to degrees (5 fractional digits).
const scale = 1e5

const (
	maxRaw24 = 1<<23 - 1
	minRaw24 = -(1 << 23)
)

var (
	ErrPayloadTooShort = errors.New("payload too short")
	ErrOutOfRange      = errors.New("coordinate out of range")
	// ErrNotRepresentable is returned by Encode for values a 24-bit field cannot hold.
	ErrNotRepresentable = errors.New("coordinate not representable in 24 bits")
)

// Decode turns a raw frame into a Reading. CapturedAt is left zero; the
// ingestion boundary stamps it.
func Decode(payload []byte) (model.Reading, error) {
	if len(payload) < FrameSize {
		return model.Reading{}, fmt.Errorf("%w: got %d bytes, need %d", ErrPayloadTooShort, len(payload), FrameSize)
	}

	lat := float64(int24(payload[0:3])) / scale
	lng := float64(int24(payload[3:6])) / scale
	if err := checkRange(lat, lng); err != nil {
		return model.Reading{}, err
	}
	return model.Reading{Latitude: lat, Longitude: lng}, nil
}

// Encode is the inverse of Decode. It builds frames for tests and for
// feeding a running server by hand.
func Encode(lat, lng float64) ([]byte, error) {
	if err := checkRange(lat, lng); err != nil {
		return nil, err
	}
	latRaw, err := toRaw24(lat)
	if err != nil {
		return nil, err
	}
	lngRaw, err := toRaw24(lng)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, FrameSize)
	putInt24(buf[0:3], latRaw)
	putInt24(buf[3:6], lngRaw)
	return buf, nil
}

// int24 reads a big-endian two's-complement 24-bit integer. Shifting left by
// 8 and arithmetic-shifting back restores the sign bit.
func int24(b []byte) int32 {
	v := int32(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]))
	return (v << 8) >> 8
}

func putInt24(b []byte, v int32) {
	u := uint32(v)
	b[0] = byte(u >> 16)
	b[1] = byte(u >> 8)
	b[2] = byte(u)
}

func toRaw24(deg float64) (int32, error) {
	raw := math.Round(deg * scale)
	if raw > maxRaw24 || raw < minRaw24 {
		return 0, fmt.Errorf("%w: %v", ErrNotRepresentable, deg)
	}
	return int32(raw), nil
}

func checkRange(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrOutOfRange, lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrOutOfRange, lng)
	}
	return nil
}
