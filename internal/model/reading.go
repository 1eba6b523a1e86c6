package model

// Reading is one decoded location sample.
type Reading struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// CapturedAt is seconds since epoch, stamped at receipt.
	CapturedAt int64 `json:"captured_at"`
}
