package notify

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification
type Kind string

const (
	KindPowerOn          Kind = "power_on"
	KindFirstPosition    Kind = "first_position"
	KindTelemetryStopped Kind = "telemetry_stopped"
	KindProlongedOffline Kind = "prolonged_offline"
	KindArmReport        Kind = "arm_report"
)

// Message is a formatted notification plus routing metadata.
// ThreadID selects a sub-channel of the sink; nil means the sink default.
type Message struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	BoardNumber int64     `json:"board_number"`
	ThreadID    *int64    `json:"thread_id,omitempty"`
	Text        string    `json:"text"`
	Lat         *float64  `json:"lat,omitempty"`
	Lon         *float64  `json:"lon,omitempty"`
	Link        string    `json:"link,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh id
func NewMessage(kind Kind, boardNumber int64, text string, now time.Time) Message {
	return Message{
		ID:          uuid.New(),
		Kind:        kind,
		BoardNumber: boardNumber,
		Text:        text,
		CreatedAt:   now.UTC(),
	}
}
