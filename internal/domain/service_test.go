package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/access/internal/auth"
	"example.com/access/internal/qrtoken"
)

var testQRCfg = qrtoken.Config{Secret: "unit-test-secret", TTL: time.Hour}

func fixedClock() time.Time {
	return time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
}

type fakeRepo struct {
	findAthlete     func(ctx context.Context, athleteID string) (*Athlete, error)
	findAcademy     func(ctx context.Context, academyID string) (*Academy, error)
	createSession   func(ctx context.Context, session QRSession) error
	findSession     func(ctx context.Context, token string) (*QRSession, *Athlete, error)
	hasEntryOn      func(ctx context.Context, athleteID, academyID, date string) (bool, error)
	commit          func(ctx context.Context, record AttendanceRecord, sessionID string, usedAt time.Time) error
	insert          func(ctx context.Context, record AttendanceRecord) error
	countVisits     func(ctx context.Context, athleteID, academyID, fromDate, toDate string) (int, error)
	listSince       func(ctx context.Context, athleteID, academyID, sinceDate string) ([]AttendanceEntry, error)
	findRole        func(ctx context.Context, userID, academyID string) (auth.Role, error)
	createdSessions []QRSession
	committed       []AttendanceRecord
	inserted        []AttendanceRecord
}

func (f *fakeRepo) FindAthlete(ctx context.Context, athleteID string) (*Athlete, error) {
	if f.findAthlete == nil {
		return nil, nil
	}
	return f.findAthlete(ctx, athleteID)
}

func (f *fakeRepo) FindAcademy(ctx context.Context, academyID string) (*Academy, error) {
	if f.findAcademy == nil {
		return nil, nil
	}
	return f.findAcademy(ctx, academyID)
}

func (f *fakeRepo) CreateSession(ctx context.Context, session QRSession) error {
	f.createdSessions = append(f.createdSessions, session)
	if f.createSession == nil {
		return nil
	}
	return f.createSession(ctx, session)
}

func (f *fakeRepo) FindSessionByToken(ctx context.Context, token string) (*QRSession, *Athlete, error) {
	if f.findSession == nil {
		return nil, nil, nil
	}
	return f.findSession(ctx, token)
}

func (f *fakeRepo) HasEntryOn(ctx context.Context, athleteID, academyID, date string) (bool, error) {
	if f.hasEntryOn == nil {
		return false, nil
	}
	return f.hasEntryOn(ctx, athleteID, academyID, date)
}

func (f *fakeRepo) CommitRedemption(ctx context.Context, record AttendanceRecord, sessionID string, usedAt time.Time) error {
	f.committed = append(f.committed, record)
	if f.commit == nil {
		return nil
	}
	return f.commit(ctx, record, sessionID, usedAt)
}

func (f *fakeRepo) InsertAttendance(ctx context.Context, record AttendanceRecord) error {
	f.inserted = append(f.inserted, record)
	if f.insert == nil {
		return nil
	}
	return f.insert(ctx, record)
}

func (f *fakeRepo) CountAuthorizedVisits(ctx context.Context, athleteID, academyID, fromDate, toDate string) (int, error) {
	if f.countVisits == nil {
		return 0, nil
	}
	return f.countVisits(ctx, athleteID, academyID, fromDate, toDate)
}

func (f *fakeRepo) ListAttendanceSince(ctx context.Context, athleteID, academyID, sinceDate string) ([]AttendanceEntry, error) {
	if f.listSince == nil {
		return nil, nil
	}
	return f.listSince(ctx, athleteID, academyID, sinceDate)
}

func (f *fakeRepo) FindRole(ctx context.Context, userID, academyID string) (auth.Role, error) {
	if f.findRole == nil {
		return auth.RoleUnknown, nil
	}
	return f.findRole(ctx, userID, academyID)
}

func newTestService(repo *fakeRepo) *Service {
	svc := NewService(repo, testQRCfg)
	svc.now = fixedClock
	return svc
}

func activeAthlete() *Athlete {
	return &Athlete{ID: "ath-1", AcademyID: "aca-1", Name: "Joana Prado", PlanStatus: PlanActive}
}

func testAcademy() *Academy {
	return &Academy{ID: "aca-1", Name: "Academia Central", Slug: "central", PlanStatus: PlanActive}
}

func TestIssueQRCreatesSession(t *testing.T) {
	repo := &fakeRepo{
		findAthlete: func(_ context.Context, id string) (*Athlete, error) {
			require.Equal(t, "ath-1", id)
			return activeAthlete(), nil
		},
		findAcademy: func(_ context.Context, id string) (*Academy, error) {
			require.Equal(t, "aca-1", id)
			return testAcademy(), nil
		},
	}
	svc := newTestService(repo)
	// Tokens are verified against the wall clock, so issue relative to it.
	issuedAt := time.Now()
	svc.now = func() time.Time { return issuedAt }

	issued, err := svc.IssueQR(context.Background(), IssueQRInput{
		AthleteID: "ath-1",
		AcademyID: "aca-1",
		OriginIP:  "203.0.113.9",
		UserAgent: "test-agent",
	})
	require.NoError(t, err)
	require.NotNil(t, issued)

	require.NotEmpty(t, issued.Token)
	require.True(t, strings.HasPrefix(issued.Image, "data:image/png;base64,"))
	require.Equal(t, issuedAt.UTC().Add(testQRCfg.TTL), issued.ValidUntil)

	claims, err := qrtoken.Verify(testQRCfg, issued.Token)
	require.NoError(t, err)
	require.Equal(t, "ath-1", claims.AthleteID)
	require.Equal(t, "aca-1", claims.AcademyID)

	require.Len(t, repo.createdSessions, 1)
	session := repo.createdSessions[0]
	require.NotEmpty(t, session.ID)
	require.Equal(t, issued.Token, session.Token)
	require.Equal(t, "203.0.113.9", session.OriginIP)
	require.False(t, session.Used)
}

func TestIssueQRRejectsMissingFields(t *testing.T) {
	svc := newTestService(&fakeRepo{})

	_, err := svc.IssueQR(context.Background(), IssueQRInput{AthleteID: "ath-1"})
	require.ErrorIs(t, err, ErrMissingFields)

	_, err = svc.IssueQR(context.Background(), IssueQRInput{AcademyID: "aca-1"})
	require.ErrorIs(t, err, ErrMissingFields)
}

func TestIssueQRUnknownAthlete(t *testing.T) {
	repo := &fakeRepo{
		findAthlete: func(context.Context, string) (*Athlete, error) { return nil, nil },
	}
	svc := newTestService(repo)

	_, err := svc.IssueQR(context.Background(), IssueQRInput{AthleteID: "ghost", AcademyID: "aca-1"})
	require.ErrorIs(t, err, ErrAthleteNotFound)
}

func issueRedeemableToken(t *testing.T) string {
	t.Helper()
	token, _, err := qrtoken.Issue(testQRCfg, "ath-1", "aca-1", time.Now())
	require.NoError(t, err)
	return token
}

func redeemableSession(token string) *QRSession {
	return &QRSession{
		ID:        "ses-1",
		AthleteID: "ath-1",
		AcademyID: "aca-1",
		Token:     token,
		CreatedAt: fixedClock().Add(-time.Minute),
		ExpiresAt: fixedClock().Add(30 * time.Minute),
	}
}

func activeAcademyLookup(context.Context, string) (*Academy, error) {
	return testAcademy(), nil
}

func TestRedeemAuthorizesFirstUse(t *testing.T) {
	token := issueRedeemableToken(t)
	repo := &fakeRepo{
		findSession: func(_ context.Context, got string) (*QRSession, *Athlete, error) {
			require.Equal(t, token, got)
			return redeemableSession(token), activeAthlete(), nil
		},
		findAcademy: activeAcademyLookup,
		countVisits: func(_ context.Context, _, _, fromDate, toDate string) (int, error) {
			require.Equal(t, "2025-03-01", fromDate)
			require.Equal(t, "2025-03-10", toDate)
			return 7, nil
		},
	}
	svc := newTestService(repo)

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1", OriginIP: "198.51.100.4"})
	require.NoError(t, err)

	require.True(t, decision.Authorized)
	require.Equal(t, "Joana Prado", decision.AthleteName)
	require.Equal(t, 7, decision.VisitsThisMonth)
	require.NotNil(t, decision.Record)
	require.Equal(t, "2025-03-10", decision.Record.EntryDate)
	require.Equal(t, "09:30:00", decision.Record.EntryTime)
	require.Equal(t, MethodQR, decision.Record.Method)
	require.Equal(t, StatusAuthorized, decision.Record.Status)
	require.Equal(t, "smartphone", decision.Record.Device)

	require.Len(t, repo.committed, 1)
}

func TestRedeemRejectsMissingParams(t *testing.T) {
	svc := newTestService(&fakeRepo{})

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: "", AcademyID: "aca-1"})
	require.NoError(t, err)
	require.False(t, decision.Authorized)
	require.Equal(t, DenialMissingParams, decision.Reason)

	decision, err = svc.Redeem(context.Background(), RedeemInput{Token: "abc", AcademyID: ""})
	require.NoError(t, err)
	require.Equal(t, DenialMissingParams, decision.Reason)
}

func TestRedeemRejectsGarbageToken(t *testing.T) {
	svc := newTestService(&fakeRepo{})

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: "not-a-jwt", AcademyID: "aca-1"})
	require.NoError(t, err)
	require.False(t, decision.Authorized)
	require.Equal(t, DenialInvalidQR, decision.Reason)
}

func TestRedeemRejectsExpiredToken(t *testing.T) {
	token, _, err := qrtoken.Issue(testQRCfg, "ath-1", "aca-1", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	svc := newTestService(&fakeRepo{})

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.Equal(t, DenialExpiredQR, decision.Reason)
}

func TestRedeemRejectsExpiredSession(t *testing.T) {
	token := issueRedeemableToken(t)
	repo := &fakeRepo{
		findSession: func(context.Context, string) (*QRSession, *Athlete, error) {
			session := redeemableSession(token)
			session.ExpiresAt = fixedClock().Add(-time.Minute)
			return session, activeAthlete(), nil
		},
	}
	svc := newTestService(repo)

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.Equal(t, DenialExpiredQR, decision.Reason)
	require.Empty(t, repo.committed)
}

func TestRedeemRejectsWrongAcademy(t *testing.T) {
	token := issueRedeemableToken(t)
	svc := newTestService(&fakeRepo{})

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-other"})
	require.NoError(t, err)
	require.Equal(t, DenialInvalidQR, decision.Reason)
	require.Equal(t, "QR não pertence a esta academia", decision.Message)
}

func TestRedeemRejectsUsedSession(t *testing.T) {
	token := issueRedeemableToken(t)
	repo := &fakeRepo{
		findSession: func(context.Context, string) (*QRSession, *Athlete, error) {
			session := redeemableSession(token)
			session.Used = true
			return session, activeAthlete(), nil
		},
	}
	svc := newTestService(repo)

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.Equal(t, DenialUsedQR, decision.Reason)
	require.Empty(t, repo.committed)
}

func TestRedeemRejectsInactivePlan(t *testing.T) {
	token := issueRedeemableToken(t)
	repo := &fakeRepo{
		findSession: func(context.Context, string) (*QRSession, *Athlete, error) {
			athlete := activeAthlete()
			athlete.PlanStatus = PlanStatus("past_due")
			return redeemableSession(token), athlete, nil
		},
	}
	svc := newTestService(repo)

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.Equal(t, DenialInactivePlan, decision.Reason)
}

func TestRedeemRejectsInactiveAcademy(t *testing.T) {
	token := issueRedeemableToken(t)
	repo := &fakeRepo{
		findSession: func(context.Context, string) (*QRSession, *Athlete, error) {
			return redeemableSession(token), activeAthlete(), nil
		},
		findAcademy: func(context.Context, string) (*Academy, error) {
			academy := testAcademy()
			academy.PlanStatus = PlanStatus("suspended")
			return academy, nil
		},
	}
	svc := newTestService(repo)

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.False(t, decision.Authorized)
	require.Equal(t, DenialInactiveGym, decision.Reason)
	require.Equal(t, "Academia sem plano ativo", decision.Message)
	require.Empty(t, repo.committed)

	// A vanished academy row denies the same way.
	repo.findAcademy = func(context.Context, string) (*Academy, error) { return nil, nil }
	decision, err = svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.Equal(t, DenialInactiveGym, decision.Reason)
}

func TestRedeemRejectsSecondEntrySameDay(t *testing.T) {
	token := issueRedeemableToken(t)
	repo := &fakeRepo{
		findSession: func(context.Context, string) (*QRSession, *Athlete, error) {
			return redeemableSession(token), activeAthlete(), nil
		},
		findAcademy: activeAcademyLookup,
		hasEntryOn: func(_ context.Context, _, _, date string) (bool, error) {
			require.Equal(t, "2025-03-10", date)
			return true, nil
		},
	}
	svc := newTestService(repo)

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.Equal(t, DenialDuplicate, decision.Reason)
	require.Empty(t, repo.committed)
}

func TestRedeemMapsCommitRace(t *testing.T) {
	token := issueRedeemableToken(t)
	repo := &fakeRepo{
		findSession: func(context.Context, string) (*QRSession, *Athlete, error) {
			return redeemableSession(token), activeAthlete(), nil
		},
		findAcademy: activeAcademyLookup,
		commit: func(context.Context, AttendanceRecord, string, time.Time) error {
			return ErrSessionUsed
		},
	}
	svc := newTestService(repo)

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.Equal(t, DenialUsedQR, decision.Reason)
}

func TestRedeemVisitCountFailureIsNonFatal(t *testing.T) {
	token := issueRedeemableToken(t)
	repo := &fakeRepo{
		findSession: func(context.Context, string) (*QRSession, *Athlete, error) {
			return redeemableSession(token), activeAthlete(), nil
		},
		findAcademy: activeAcademyLookup,
		countVisits: func(context.Context, string, string, string, string) (int, error) {
			return 0, errors.New("read replica down")
		},
	}
	svc := newTestService(repo)

	decision, err := svc.Redeem(context.Background(), RedeemInput{Token: token, AcademyID: "aca-1"})
	require.NoError(t, err)
	require.True(t, decision.Authorized)
	require.Equal(t, 1, decision.VisitsThisMonth)
}

func TestManualCheckinRecordsEntry(t *testing.T) {
	repo := &fakeRepo{
		findRole: func(_ context.Context, userID, academyID string) (auth.Role, error) {
			require.Equal(t, "staff-1", userID)
			require.Equal(t, "aca-1", academyID)
			return auth.RoleAcademyManager, nil
		},
		findAthlete: func(context.Context, string) (*Athlete, error) { return activeAthlete(), nil },
		findAcademy: func(context.Context, string) (*Academy, error) { return testAcademy(), nil },
	}
	svc := newTestService(repo)

	result, err := svc.ManualCheckin(context.Background(), ManualCheckinInput{
		StaffUserID: "staff-1",
		AthleteID:   "ath-1",
		AcademyID:   "aca-1",
		EntryTime:   "08:30",
		ExitTime:    "10:00",
	})
	require.NoError(t, err)

	require.Equal(t, "Joana Prado", result.AthleteName)
	require.Equal(t, "Academia Central", result.AcademyName)
	require.Equal(t, "08:30:00", result.Record.EntryTime)
	require.NotNil(t, result.Record.ExitTime)
	require.Equal(t, "10:00:00", *result.Record.ExitTime)
	require.Equal(t, MethodManual, result.Record.Method)
	require.Equal(t, StatusManual, result.Record.Status)
	require.Equal(t, "portaria", result.Record.Device)
	require.Equal(t, "2025-03-10", result.Record.EntryDate)
	require.NotNil(t, result.DurationMinutes)
	require.Equal(t, 90, *result.DurationMinutes)

	require.Len(t, repo.inserted, 1)
}

func TestManualCheckinRejectsUnprivilegedRoles(t *testing.T) {
	for _, role := range []auth.Role{auth.RoleAthlete, auth.RoleFrontDesk} {
		repo := &fakeRepo{
			findRole: func(context.Context, string, string) (auth.Role, error) {
				return role, nil
			},
		}
		svc := newTestService(repo)

		_, err := svc.ManualCheckin(context.Background(), ManualCheckinInput{
			StaffUserID: "staff-9",
			AthleteID:   "ath-1",
			AcademyID:   "aca-1",
			EntryTime:   "08:30",
		})
		require.ErrorIs(t, err, ErrPermissionDenied, "role %s", role)
		require.Empty(t, repo.inserted)
	}
}

func TestManualCheckinRejectsUnknownRole(t *testing.T) {
	svc := newTestService(&fakeRepo{})

	_, err := svc.ManualCheckin(context.Background(), ManualCheckinInput{
		StaffUserID: "nobody",
		AthleteID:   "ath-1",
		AcademyID:   "aca-1",
		EntryTime:   "08:30",
	})
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestManualCheckinValidatesInput(t *testing.T) {
	repo := &fakeRepo{
		findRole: func(context.Context, string, string) (auth.Role, error) {
			return auth.RoleAcademyManager, nil
		},
	}
	svc := newTestService(repo)

	_, err := svc.ManualCheckin(context.Background(), ManualCheckinInput{
		StaffUserID: "staff-1", AthleteID: "ath-1", AcademyID: "aca-1",
	})
	require.ErrorIs(t, err, ErrMissingFields)

	_, err = svc.ManualCheckin(context.Background(), ManualCheckinInput{
		StaffUserID: "staff-1", AthleteID: "ath-1", AcademyID: "aca-1", EntryTime: "25:99",
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.ManualCheckin(context.Background(), ManualCheckinInput{
		StaffUserID: "staff-1", AthleteID: "ath-1", AcademyID: "aca-1", EntryTime: "08:30", Date: "10/03/2025",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestHistoryAggregatesWindow(t *testing.T) {
	exit := "09:15:00"
	repo := &fakeRepo{
		listSince: func(_ context.Context, athleteID, academyID, sinceDate string) ([]AttendanceEntry, error) {
			require.Equal(t, "ath-1", athleteID)
			require.Equal(t, "aca-1", academyID)
			require.Equal(t, "2025-02-08", sinceDate)
			return []AttendanceEntry{
				{
					AttendanceRecord: AttendanceRecord{EntryDate: "2025-03-09", EntryTime: "08:00:00", ExitTime: &exit, Status: StatusAuthorized},
					AcademyName:      "Academia Central",
				},
				{
					AttendanceRecord: AttendanceRecord{EntryDate: "2025-03-05", EntryTime: "18:30:00", Status: StatusAuthorized},
					AcademyName:      "Academia Central",
				},
				{
					AttendanceRecord: AttendanceRecord{EntryDate: "2025-02-20", EntryTime: "07:45:00", Status: StatusManual},
					AcademyName:      "Academia Central",
				},
			}, nil
		},
	}
	svc := newTestService(repo)

	summary, err := svc.History(context.Background(), HistoryInput{AthleteID: "ath-1", AcademyID: "aca-1", Days: 30})
	require.NoError(t, err)

	require.Equal(t, 3, summary.TotalVisits)
	require.Equal(t, 2, summary.VisitsLastWeek)
	require.Equal(t, 0.6, summary.WeeklyAverage)
	require.Equal(t, 16, summary.TargetVisits)
	require.Equal(t, 19, summary.TargetPercent)
	require.Equal(t, "2025-02-08", summary.WindowStart)
	require.Equal(t, "2025-03-10", summary.WindowEnd)
	require.Equal(t, 30, summary.WindowDays)

	require.Len(t, summary.Visits, 3)
	first := summary.Visits[0]
	require.Equal(t, "2025-03-09", first.Date)
	require.NotNil(t, first.DurationMinutes)
	require.Equal(t, 75, *first.DurationMinutes)
	require.Nil(t, summary.Visits[1].DurationMinutes)
}

func TestHistoryEmptyWindow(t *testing.T) {
	svc := newTestService(&fakeRepo{})

	summary, err := svc.History(context.Background(), HistoryInput{AthleteID: "ath-1"})
	require.NoError(t, err)

	require.Equal(t, 30, summary.WindowDays)
	require.Equal(t, 0, summary.TotalVisits)
	require.Equal(t, 0, summary.VisitsLastWeek)
	require.Equal(t, 0.0, summary.WeeklyAverage)
	require.Equal(t, 16, summary.TargetVisits)
	require.Equal(t, 0, summary.TargetPercent)
	require.Empty(t, summary.Visits)
}

func TestHistoryRequiresAthlete(t *testing.T) {
	svc := newTestService(&fakeRepo{})

	_, err := svc.History(context.Background(), HistoryInput{})
	require.ErrorIs(t, err, ErrMissingFields)
}

func TestNormalizeClock(t *testing.T) {
	got, err := normalizeClock("07:05")
	require.NoError(t, err)
	require.Equal(t, "07:05:00", got)

	got, err = normalizeClock("23:59:59")
	require.NoError(t, err)
	require.Equal(t, "23:59:59", got)

	_, err = normalizeClock("7h30")
	require.Error(t, err)
}
