package logbook

import (
	"fmt"
	"time"
)

// Traffic direction values for Entry.Direction
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

// Entry is one logged payload, either received off the air or
// transmitted
type Entry struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Direction  string    `gorm:"index;size:2;not null" json:"direction"`
	Payload    []byte    `json:"payload"`
	Size       int       `gorm:"not null" json:"size"`
	Confidence float64   `json:"confidence"` // demodulator confidence, -1 when unknown
	At         time.Time `gorm:"index" json:"at"`
}

// TableName specifies the table name for GORM
func (Entry) TableName() string {
	return "log_entries"
}

// String returns a formatted string representation
func (e Entry) String() string {
	return fmt.Sprintf("%s %s %d bytes", e.At.Format(time.RFC3339), e.Direction, e.Size)
}

// IsValid checks if the entry has required fields
func (e Entry) IsValid() bool {
	return (e.Direction == DirectionRx || e.Direction == DirectionTx) && e.Size >= 0
}
