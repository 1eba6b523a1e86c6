package model

// GPSRecord is a persisted Reading. RSSI and SNR stay NULL unless the
// transport exposes them.
type GPSRecord struct {
	ID        int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Latitude  float64  `gorm:"not null" json:"latitude"`
	Longitude float64  `gorm:"not null" json:"longitude"`
	Timestamp int64    `gorm:"not null;index" json:"timestamp"`
	RSSI      *int     `gorm:"column:rssi" json:"rssi"`
	SNR       *float64 `gorm:"column:snr" json:"snr"`
}

// TableName keeps the table name used by existing deployments.
func (GPSRecord) TableName() string {
	return "gps_data"
}

// Reading returns the sample this record was created from.
func (r GPSRecord) Reading() Reading {
	return Reading{Latitude: r.Latitude, Longitude: r.Longitude, CapturedAt: r.Timestamp}
}
