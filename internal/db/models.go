package db

import (
	"strconv"
	"time"
)

// Board represents a tracked vehicle and its presence snapshot
type Board struct {
	ID        int64
	Number    int64
	Status    *string
	CreatedAt time.Time

	IsOnline     bool
	OnlineSince  *time.Time
	OfflineSince *time.Time

	LastTelemetryAt   *time.Time
	LastMode          *string
	LastVolt          *float64
	LastLat           *float64
	LastLon           *float64
	LastPosReportedAt *time.Time
	CurrentSess       *string

	// per-stage notification watermarks
	LastOfflineNotifiedAt      *time.Time
	ProlongedOfflineNotifiedAt *time.Time
}

// Label returns the human board label used in messages and listings
func (b *Board) Label() string {
	return "#" + strconv.FormatInt(b.Number, 10)
}

// Sample represents one stored telemetry observation
type Sample struct {
	ID         int64
	BoardID    int64
	TS         time.Time
	TSEpoch    *int64
	Sess       *string
	Seq        *int64
	Lat        *float64
	Lon        *float64
	AltM       *float64
	GS         *float64
	Hdg        *float64
	Airspd     *float64
	Volt       *float64
	Mode       *string
	WindSpd    *float64
	WindDir    *float64
	GPS        *string
	Arm        bool
	ReceivedAt time.Time
}

// HasPosition reports whether both coordinates are present
func (s *Sample) HasPosition() bool {
	return s.Lat != nil && s.Lon != nil
}

// HasKey reports whether the sample carries the (session, sequence) idempotency key
func (s *Sample) HasKey() bool {
	return s.Sess != nil && *s.Sess != "" && s.Seq != nil
}

// ArmReport represents one ARM usage report sent by a board
type ArmReport struct {
	ID          int64
	BoardID     *int64
	BoardNumber int64
	TS          time.Time
	Arms        int
	ArmSec      float64
	QStabSec    float64
	CreatedAt   time.Time
}
