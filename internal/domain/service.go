package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/access/internal/auth"
	"example.com/access/internal/qrtoken"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"

	defaultHistoryDays = 30
	// monthlyVisitTarget is the fixed attendance goal the history summary
	// measures against, pro-rated to the requested window.
	monthlyVisitTarget = 16

	defaultDevice   = "smartphone"
	frontDeskDevice = "portaria"
)

// Service orchestrates the QR issuance, redemption, manual entry and
// history flows.
type Service struct {
	repo  AccessRepository
	qrCfg qrtoken.Config
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(repo AccessRepository, qrCfg qrtoken.Config) *Service {
	return &Service{repo: repo, qrCfg: qrCfg, now: time.Now}
}

// IssueQRInput carries the issuance request.
type IssueQRInput struct {
	AthleteID string
	AcademyID string
	OriginIP  string
	UserAgent string
}

// IssuedQR is the result of a successful issuance.
type IssuedQR struct {
	Token      string
	Image      string
	AthleteID  string
	AcademyID  string
	ValidUntil time.Time
}

// IssueQR creates a new time-boxed QR session for the athlete/academy pair.
// Previously issued sessions stay independently valid until their own expiry
// or first use.
func (s *Service) IssueQR(ctx context.Context, input IssueQRInput) (*IssuedQR, error) {
	if strings.TrimSpace(input.AthleteID) == "" || strings.TrimSpace(input.AcademyID) == "" {
		return nil, fmt.Errorf("%w: athlete_id and academy_id", ErrMissingFields)
	}

	athlete, err := s.repo.FindAthlete(ctx, input.AthleteID)
	if err != nil {
		return nil, err
	}
	if athlete == nil {
		return nil, ErrAthleteNotFound
	}

	academy, err := s.repo.FindAcademy(ctx, input.AcademyID)
	if err != nil {
		return nil, err
	}
	if academy == nil {
		return nil, ErrAcademyNotFound
	}

	now := s.now().UTC()
	token, expiresAt, err := qrtoken.Issue(s.qrCfg, input.AthleteID, input.AcademyID, now)
	if err != nil {
		return nil, err
	}

	image, err := qrtoken.DataURL(token)
	if err != nil {
		return nil, err
	}

	session := QRSession{
		ID:        uuid.NewString(),
		AthleteID: input.AthleteID,
		AcademyID: input.AcademyID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		OriginIP:  input.OriginIP,
		UserAgent: input.UserAgent,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &IssuedQR{
		Token:      token,
		Image:      image,
		AthleteID:  input.AthleteID,
		AcademyID:  input.AcademyID,
		ValidUntil: expiresAt,
	}, nil
}

// RedeemInput carries a presented QR token.
type RedeemInput struct {
	Token     string
	AcademyID string
	Device    string
	OriginIP  string
}

// Redeem runs the check-in state machine. Every rejection returns a denial
// decision without writing; only the commit step mutates state, and it does
// so in a single transaction.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) (CheckinDecision, error) {
	if strings.TrimSpace(input.Token) == "" || strings.TrimSpace(input.AcademyID) == "" {
		return Denied(DenialMissingParams), nil
	}

	claims, err := qrtoken.Verify(s.qrCfg, input.Token)
	if err != nil {
		if errors.Is(err, qrtoken.ErrExpired) {
			return Denied(DenialExpiredQR), nil
		}
		return Denied(DenialInvalidQR), nil
	}
	if claims.AcademyID != input.AcademyID {
		return DeniedWithMessage(DenialInvalidQR, "QR não pertence a esta academia"), nil
	}

	session, athlete, err := s.repo.FindSessionByToken(ctx, input.Token)
	if err != nil {
		return CheckinDecision{}, err
	}
	if session == nil || athlete == nil {
		return Denied(DenialInvalidQR), nil
	}

	now := s.now()
	if !now.Before(session.ExpiresAt) {
		return Denied(DenialExpiredQR), nil
	}
	if session.Used {
		return Denied(DenialUsedQR), nil
	}
	if athlete.PlanStatus != PlanActive {
		return Denied(DenialInactivePlan), nil
	}

	// The academy's own subscription gates entry too.
	academy, err := s.repo.FindAcademy(ctx, input.AcademyID)
	if err != nil {
		return CheckinDecision{}, err
	}
	if academy == nil || academy.PlanStatus != PlanActive {
		return Denied(DenialInactiveGym), nil
	}

	// Calendar days are local midnight-to-midnight.
	today := now.Format(dateLayout)
	exists, err := s.repo.HasEntryOn(ctx, athlete.ID, input.AcademyID, today)
	if err != nil {
		return CheckinDecision{}, err
	}
	if exists {
		return Denied(DenialDuplicate), nil
	}

	device := strings.TrimSpace(input.Device)
	if device == "" {
		device = defaultDevice
	}

	record := AttendanceRecord{
		ID:        uuid.NewString(),
		AcademyID: input.AcademyID,
		AthleteID: athlete.ID,
		EntryDate: today,
		EntryTime: now.Format(timeLayout),
		Method:    MethodQR,
		Device:    device,
		OriginIP:  input.OriginIP,
		Status:    StatusAuthorized,
		CreatedAt: now.UTC(),
	}

	if err := s.repo.CommitRedemption(ctx, record, session.ID, now.UTC()); err != nil {
		switch {
		case errors.Is(err, ErrSessionUsed):
			return Denied(DenialUsedQR), nil
		case errors.Is(err, ErrDuplicateEntry):
			return Denied(DenialDuplicate), nil
		default:
			return CheckinDecision{}, err
		}
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(dateLayout)
	visits, err := s.repo.CountAuthorizedVisits(ctx, athlete.ID, input.AcademyID, monthStart, today)
	if err != nil {
		// The entry is already committed; the running count is informational.
		visits = 1
	}

	return Approved(athlete.Name, record, visits), nil
}

// ManualCheckinInput is the staff-initiated entry payload.
type ManualCheckinInput struct {
	StaffUserID string
	AthleteID   string
	AcademyID   string
	EntryTime   string
	ExitTime    string
	Date        string
}

// ManualCheckinResult reports the recorded entry.
type ManualCheckinResult struct {
	Record          AttendanceRecord
	AthleteName     string
	AcademyName     string
	DurationMinutes *int
}

// ManualCheckin records an entry on behalf of an athlete, bypassing token
// validation. The caller's role at the academy must carry the manual
// check-in capability.
func (s *Service) ManualCheckin(ctx context.Context, input ManualCheckinInput) (*ManualCheckinResult, error) {
	if strings.TrimSpace(input.AthleteID) == "" || strings.TrimSpace(input.AcademyID) == "" || strings.TrimSpace(input.EntryTime) == "" {
		return nil, fmt.Errorf("%w: athlete_id, academy_id and entry_time", ErrMissingFields)
	}

	role, err := s.repo.FindRole(ctx, input.StaffUserID, input.AcademyID)
	if err != nil {
		return nil, err
	}
	if !role.Can(auth.PermManualCheckin) {
		return nil, ErrPermissionDenied
	}

	entryTime, err := normalizeClock(input.EntryTime)
	if err != nil {
		return nil, fmt.Errorf("%w: entry_time", ErrInvalidInput)
	}

	var exitTime *string
	if strings.TrimSpace(input.ExitTime) != "" {
		normalized, err := normalizeClock(input.ExitTime)
		if err != nil {
			return nil, fmt.Errorf("%w: exit_time", ErrInvalidInput)
		}
		exitTime = &normalized
	}

	date := strings.TrimSpace(input.Date)
	if date == "" {
		date = s.now().Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date", ErrInvalidInput)
	}

	athlete, err := s.repo.FindAthlete(ctx, input.AthleteID)
	if err != nil {
		return nil, err
	}
	if athlete == nil {
		return nil, ErrAthleteNotFound
	}

	academy, err := s.repo.FindAcademy(ctx, input.AcademyID)
	if err != nil {
		return nil, err
	}
	if academy == nil {
		return nil, ErrAcademyNotFound
	}

	record := AttendanceRecord{
		ID:        uuid.NewString(),
		AcademyID: input.AcademyID,
		AthleteID: input.AthleteID,
		EntryDate: date,
		EntryTime: entryTime,
		ExitTime:  exitTime,
		Method:    MethodManual,
		Device:    frontDeskDevice,
		Status:    StatusManual,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertAttendance(ctx, record); err != nil {
		return nil, err
	}

	return &ManualCheckinResult{
		Record:          record,
		AthleteName:     athlete.Name,
		AcademyName:     academy.Name,
		DurationMinutes: durationMinutes(entryTime, exitTime),
	}, nil
}

// HistoryInput selects the athlete's attendance window.
type HistoryInput struct {
	AthleteID string
	AcademyID string
	Days      int
}

// HistoryVisit is one annotated ledger row in the summary.
type HistoryVisit struct {
	Date            string
	EntryTime       string
	ExitTime        *string
	DurationMinutes *int
	Academy         string
	Status          AttendanceStatus
}

// HistorySummary aggregates the athlete's attendance over the window.
type HistorySummary struct {
	Visits         []HistoryVisit
	TotalVisits    int
	VisitsLastWeek int
	WeeklyAverage  float64
	TargetVisits   int
	TargetPercent  int
	WindowStart    string
	WindowEnd      string
	WindowDays     int
}

// History returns the athlete's date-descending attendance with derived
// frequency figures. A window with no rows yields zero counts and a zero
// percentage.
func (s *Service) History(ctx context.Context, input HistoryInput) (*HistorySummary, error) {
	if strings.TrimSpace(input.AthleteID) == "" {
		return nil, fmt.Errorf("%w: athlete_id", ErrMissingFields)
	}

	days := input.Days
	if days <= 0 {
		days = defaultHistoryDays
	}

	now := s.now()
	since := now.AddDate(0, 0, -days).Format(dateLayout)
	weekAgo := now.AddDate(0, 0, -7).Format(dateLayout)

	entries, err := s.repo.ListAttendanceSince(ctx, input.AthleteID, input.AcademyID, since)
	if err != nil {
		return nil, err
	}

	visits := make([]HistoryVisit, 0, len(entries))
	lastWeek := 0
	for _, entry := range entries {
		// ISO dates compare correctly as strings.
		if entry.EntryDate >= weekAgo {
			lastWeek++
		}
		visits = append(visits, HistoryVisit{
			Date:            entry.EntryDate,
			EntryTime:       entry.EntryTime,
			ExitTime:        entry.ExitTime,
			DurationMinutes: durationMinutes(entry.EntryTime, entry.ExitTime),
			Academy:         entry.AcademyName,
			Status:          entry.Status,
		})
	}

	total := len(visits)
	weeks := int(math.Ceil(float64(days) / 7))
	weeklyAverage := math.Round(float64(total)/float64(weeks)*10) / 10

	target := int(math.Ceil(float64(days) / 30 * monthlyVisitTarget))
	percent := 0
	if target > 0 {
		percent = int(math.Round(float64(total) / float64(target) * 100))
	}

	return &HistorySummary{
		Visits:         visits,
		TotalVisits:    total,
		VisitsLastWeek: lastWeek,
		WeeklyAverage:  weeklyAverage,
		TargetVisits:   target,
		TargetPercent:  percent,
		WindowStart:    since,
		WindowEnd:      now.Format(dateLayout),
		WindowDays:     days,
	}, nil
}

// normalizeClock accepts HH:MM or HH:MM:SS and returns HH:MM:SS.
func normalizeClock(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(timeLayout, raw); err == nil {
		return t.Format(timeLayout), nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return "", err
	}
	return t.Format(timeLayout), nil
}

// durationMinutes computes exit-entry in minutes when both times are present.
func durationMinutes(entry string, exit *string) *int {
	if exit == nil {
		return nil
	}
	start, err := time.Parse(timeLayout, entry)
	if err != nil {
		return nil
	}
	end, err := time.Parse(timeLayout, *exit)
	if err != nil {
		return nil
	}
	minutes := int(end.Sub(start).Minutes())
	return &minutes
}
