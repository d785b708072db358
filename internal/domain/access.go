// Package domain defines the business logic for the access service.
package domain

import (
	"context"
	"errors"
	"time"

	"example.com/access/internal/auth"
)

var (
	// ErrMissingFields is returned when a required input is absent.
	ErrMissingFields = errors.New("required fields missing")
	// ErrInvalidInput is returned for malformed input values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAthleteNotFound is returned when an athlete cannot be located.
	ErrAthleteNotFound = errors.New("athlete not found")
	// ErrAcademyNotFound is returned when an academy cannot be located.
	ErrAcademyNotFound = errors.New("academy not found")
	// ErrSessionUsed signals the session was consumed between validation and commit.
	ErrSessionUsed = errors.New("qr session already used")
	// ErrDuplicateEntry signals an authorized entry already exists for the day.
	ErrDuplicateEntry = errors.New("attendance already recorded for this day")
	// ErrPermissionDenied is returned when the caller's role lacks the capability.
	ErrPermissionDenied = errors.New("permission denied")
)

// PlanStatus gates whether an athlete may check in.
type PlanStatus string

// PlanActive is the only status that authorizes entry.
const PlanActive PlanStatus = "active"

// ValidationMethod records how an attendance entry was verified.
type ValidationMethod string

const (
	MethodQR        ValidationMethod = "qr"
	MethodManual    ValidationMethod = "manual"
	MethodBiometric ValidationMethod = "biometria"
)

// AttendanceStatus is the outcome stored on the ledger row.
type AttendanceStatus string

const (
	StatusAuthorized AttendanceStatus = "autorizado"
	StatusManual     AttendanceStatus = "manual"
	StatusDenied     AttendanceStatus = "negado"
)

// Athlete is the subset of the athlete entity the access flow consumes.
type Athlete struct {
	ID         string
	AcademyID  string
	Name       string
	PlanStatus PlanStatus
}

// Academy identifies a tenant gym.
type Academy struct {
	ID         string
	Name       string
	Abbrev     string
	Slug       string
	PlanStatus PlanStatus
}

// QRSession is a server-issued, time-boxed, single-use capability binding an
// athlete to an access window. Sessions are mutated exactly once (to used)
// and never deleted.
type QRSession struct {
	ID            string
	AthleteID     string
	AcademyID     string
	Token         string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Used          bool
	UsedAt        *time.Time
	UsedAcademyID *string
	OriginIP      string
	UserAgent     string
}

// AttendanceRecord is one verified physical check-in on the frequencia ledger.
// Dates and clock times use the ledger's wire layouts (2006-01-02, 15:04:05);
// entries belong to the local calendar day they were recorded on.
type AttendanceRecord struct {
	ID        string
	AcademyID string
	AthleteID string
	EntryDate string
	EntryTime string
	ExitTime  *string
	Method    ValidationMethod
	Device    string
	OriginIP  string
	Status    AttendanceStatus
	CreatedAt time.Time
}

// AttendanceEntry is a ledger row annotated with its academy display name.
type AttendanceEntry struct {
	AttendanceRecord
	AcademyName string
}

// AccessRepository captures the persistence capabilities the flows need.
type AccessRepository interface {
	FindAthlete(ctx context.Context, athleteID string) (*Athlete, error)
	FindAcademy(ctx context.Context, academyID string) (*Academy, error)
	CreateSession(ctx context.Context, session QRSession) error
	FindSessionByToken(ctx context.Context, token string) (*QRSession, *Athlete, error)
	HasEntryOn(ctx context.Context, athleteID, academyID, date string) (bool, error)
	// CommitRedemption inserts the attendance row and marks the session used in
	// one transaction, with used=FALSE as the optimistic-lock precondition.
	CommitRedemption(ctx context.Context, record AttendanceRecord, sessionID string, usedAt time.Time) error
	InsertAttendance(ctx context.Context, record AttendanceRecord) error
	CountAuthorizedVisits(ctx context.Context, athleteID, academyID, fromDate, toDate string) (int, error)
	ListAttendanceSince(ctx context.Context, athleteID, academyID, sinceDate string) ([]AttendanceEntry, error)
	FindRole(ctx context.Context, userID, academyID string) (auth.Role, error)
}
