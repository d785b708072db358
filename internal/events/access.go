// Package events defines the event payloads published through the outbox.
package events

import "time"

// QRSessionIssued is emitted when a new QR session is created.
type QRSessionIssued struct {
	SessionID string    `json:"session_id"`
	AthleteID string    `json:"athlete_id"`
	AcademyID string    `json:"academy_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CheckinRecorded is emitted when an attendance entry is committed.
type CheckinRecorded struct {
	AttendanceID string    `json:"attendance_id"`
	AcademyID    string    `json:"academy_id"`
	AthleteID    string    `json:"athlete_id"`
	EntryDate    string    `json:"entry_date"`
	EntryTime    string    `json:"entry_time"`
	Method       string    `json:"method"`
	Device       string    `json:"device,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}
