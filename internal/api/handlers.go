// Package api exposes HTTP handlers for the access service.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/access/internal/auth"
	"example.com/access/internal/domain"
	"example.com/access/internal/observability"
	"example.com/access/internal/tenant"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/qr", h.issueQR)
	mux.HandleFunc("/v1/checkin", h.checkin)
	mux.HandleFunc("/v1/checkin/manual", h.manualCheckin)
	mux.HandleFunc("/v1/history", h.history)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) issueQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeCheckin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope access:checkin required")
		return
	}

	issued, err := h.service.IssueQR(r.Context(), domain.IssueQRInput{
		AthleteID: r.URL.Query().Get("athlete_id"),
		AcademyID: r.URL.Query().Get("academy_id"),
		OriginIP:  clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingFields):
			writeError(w, http.StatusBadRequest, "campos_obrigatorios", "athlete_id and academy_id are required")
		case errors.Is(err, domain.ErrAthleteNotFound):
			writeError(w, http.StatusNotFound, "not_found", "athlete not found")
		case errors.Is(err, domain.ErrAcademyNotFound):
			writeError(w, http.StatusNotFound, "not_found", "academy not found")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", "unable to issue qr")
		}
		return
	}

	writeJSON(w, http.StatusOK, IssueQRResponse{
		Token:      issued.Token,
		Image:      issued.Image,
		AthleteID:  issued.AthleteID,
		AcademyID:  issued.AcademyID,
		ValidUntil: issued.ValidUntil,
	})
}

func (h *Handler) checkin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeCheckin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope access:checkin required")
		return
	}

	var req CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	decision, err := h.service.Redeem(r.Context(), domain.RedeemInput{
		Token:     req.QRToken,
		AcademyID: req.AcademyID,
		Device:    req.Device,
		OriginIP:  clientIP(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "unable to process checkin")
		return
	}

	if !decision.Authorized {
		observability.RecordCheckinDenied(string(decision.Reason))
		writeDenial(w, decision)
		return
	}

	writeJSON(w, http.StatusOK, CheckinResponse{
		Status:          "autorizado",
		Message:         decision.Message,
		AthleteName:     decision.AthleteName,
		VisitsThisMonth: decision.VisitsThisMonth,
		EntryTime:       decision.Record.EntryTime,
	})
}

func (h *Handler) manualCheckin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeCheckin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope access:checkin required")
		return
	}

	var req ManualCheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.service.ManualCheckin(r.Context(), domain.ManualCheckinInput{
		StaffUserID: claims.Subject,
		AthleteID:   req.AthleteID,
		AcademyID:   req.AcademyID,
		EntryTime:   req.EntryTime,
		ExitTime:    req.ExitTime,
		Date:        req.Date,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingFields):
			writeError(w, http.StatusBadRequest, "campos_obrigatorios", err.Error())
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		case errors.Is(err, domain.ErrPermissionDenied):
			writeError(w, http.StatusForbidden, "permissao_negada", "role lacks manual check-in capability at this academy")
		case errors.Is(err, domain.ErrAthleteNotFound):
			writeError(w, http.StatusNotFound, "not_found", "athlete not found")
		case errors.Is(err, domain.ErrAcademyNotFound):
			writeError(w, http.StatusNotFound, "not_found", "academy not found")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", "unable to record entry")
		}
		return
	}

	writeJSON(w, http.StatusCreated, ManualCheckinResponse{
		AthleteName:     result.AthleteName,
		AcademyName:     result.AcademyName,
		Date:            result.Record.EntryDate,
		EntryTime:       result.Record.EntryTime,
		ExitTime:        result.Record.ExitTime,
		DurationMinutes: result.DurationMinutes,
		Method:          string(result.Record.Method),
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeRead) && !claims.HasScope(auth.ScopeCheckin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope access:read required")
		return
	}

	academyID := r.URL.Query().Get("academy_id")
	if academyID == "" {
		// Subdomain tenants filter to their own academy by default.
		if academy, ok := tenant.FromContext(r.Context()); ok {
			academyID = academy.ID
		}
	}

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "days must be a positive integer")
			return
		}
		days = parsed
	}

	summary, err := h.service.History(r.Context(), domain.HistoryInput{
		AthleteID: claims.Subject,
		AcademyID: academyID,
		Days:      days,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "unable to load history")
		return
	}

	visits := make([]HistoryVisitView, 0, len(summary.Visits))
	for _, visit := range summary.Visits {
		visits = append(visits, HistoryVisitView{
			Date:            visit.Date,
			EntryTime:       visit.EntryTime,
			ExitTime:        visit.ExitTime,
			DurationMinutes: visit.DurationMinutes,
			Academy:         visit.Academy,
			Status:          string(visit.Status),
		})
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		TotalVisits:    summary.TotalVisits,
		VisitsLastWeek: summary.VisitsLastWeek,
		Visits:         visits,
		WeeklyAverage:  summary.WeeklyAverage,
		TargetVisits:   summary.TargetVisits,
		TargetPercent:  summary.TargetPercent,
		Window: HistoryWindow{
			Start: summary.WindowStart,
			End:   summary.WindowEnd,
			Days:  summary.WindowDays,
		},
	})
}

// denialStatus maps every rejection reason to its HTTP status. The switch is
// exhaustive over domain.DenialReason.
func denialStatus(reason domain.DenialReason) int {
	switch reason {
	case domain.DenialMissingParams:
		return http.StatusBadRequest
	case domain.DenialInvalidQR:
		return http.StatusNotFound
	case domain.DenialExpiredQR:
		return http.StatusForbidden
	case domain.DenialUsedQR:
		return http.StatusConflict
	case domain.DenialInactivePlan:
		return http.StatusForbidden
	case domain.DenialInactiveGym:
		return http.StatusForbidden
	case domain.DenialDuplicate:
		return http.StatusConflict
	default:
		return http.StatusForbidden
	}
}

func writeDenial(w http.ResponseWriter, decision domain.CheckinDecision) {
	writeJSON(w, denialStatus(decision.Reason), DenialResponse{
		Status:  "negado",
		Reason:  string(decision.Reason),
		Message: decision.Message,
	})
}

// clientIP returns the best-effort origin address from forwarding headers.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IssueQRResponse is the payload for GET /v1/qr.
type IssueQRResponse struct {
	Token      string    `json:"token"`
	Image      string    `json:"image"`
	AthleteID  string    `json:"athlete_id"`
	AcademyID  string    `json:"academy_id"`
	ValidUntil time.Time `json:"valid_until"`
}

// CheckinRequest is the payload for POST /v1/checkin.
type CheckinRequest struct {
	QRToken   string `json:"qr_token"`
	AcademyID string `json:"academy_id"`
	Device    string `json:"device"`
}

// CheckinResponse reports an authorized entry.
type CheckinResponse struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	AthleteName     string `json:"athlete_name"`
	VisitsThisMonth int    `json:"visits_this_month"`
	EntryTime       string `json:"entry_time"`
}

// DenialResponse reports a rejected entry with its stable reason code.
type DenialResponse struct {
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ManualCheckinRequest is the payload for POST /v1/checkin/manual.
type ManualCheckinRequest struct {
	AthleteID string `json:"athlete_id"`
	AcademyID string `json:"academy_id"`
	EntryTime string `json:"entry_time"`
	ExitTime  string `json:"exit_time"`
	Date      string `json:"date"`
}

// ManualCheckinResponse reports a staff-recorded entry.
type ManualCheckinResponse struct {
	AthleteName     string  `json:"athlete_name"`
	AcademyName     string  `json:"academy_name"`
	Date            string  `json:"date"`
	EntryTime       string  `json:"entry_time"`
	ExitTime        *string `json:"exit_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Method          string  `json:"method"`
}

// HistoryVisitView is one annotated attendance row.
type HistoryVisitView struct {
	Date            string  `json:"date"`
	EntryTime       string  `json:"entry_time"`
	ExitTime        *string `json:"exit_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Academy         string  `json:"academy"`
	Status          string  `json:"status"`
}

// HistoryWindow describes the aggregation period.
type HistoryWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

// HistoryResponse packages the attendance summary.
type HistoryResponse struct {
	TotalVisits    int                `json:"total_visits"`
	VisitsLastWeek int                `json:"visits_last_week"`
	Visits         []HistoryVisitView `json:"visits"`
	WeeklyAverage  float64            `json:"weekly_average"`
	TargetVisits   int                `json:"target_visits"`
	TargetPercent  int                `json:"target_percent"`
	Window         HistoryWindow      `json:"window"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
