// Package billing receives payment gateway webhooks and reconciles order and
// plan status. An approved payment reactivates the athlete's plan, which is
// what the check-in entitlement gate reads.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"example.com/access/internal/observability"
)

// Order statuses persisted on pedidos rows.
const (
	OrderPending  = "pendente"
	OrderApproved = "aprovado"
	OrderDeclined = "recusado"
)

// planRenewalPeriod is how long an approved payment keeps the plan active.
const planRenewalPeriod = 30 * 24 * time.Hour

// SignatureHeader carries the gateway's HMAC-SHA256 hex digest of the body.
const SignatureHeader = "X-Gateway-Signature"

// Order is the subset of a pedidos row the webhook needs.
type Order struct {
	ID          string
	AcademyID   string
	AthleteID   string
	AmountCents int64
	Reference   string
	Status      string
}

// Store captures the persistence capabilities of the webhook flow.
type Store interface {
	FindOrderByReference(ctx context.Context, reference string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status, gatewayTxID string, paidAt *time.Time) error
	ActivateAthletePlan(ctx context.Context, athleteID string, until time.Time) error
	LogWebhook(ctx context.Context, provider, eventType string, payload []byte, outcome string) error
}

// WebhookHandler processes gateway deliveries.
type WebhookHandler struct {
	store  Store
	secret string
	logger *log.Logger
	now    func() time.Time
}

// Option configures optional behaviour for the WebhookHandler.
type Option func(*WebhookHandler)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(h *WebhookHandler) {
		h.logger = logger
	}
}

// NewWebhookHandler constructs a WebhookHandler. An empty secret disables
// signature verification.
func NewWebhookHandler(store Store, secret string, opts ...Option) *WebhookHandler {
	h := &WebhookHandler{
		store:  store,
		secret: secret,
		logger: log.New(log.Writer(), "[billing] ", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires the webhook endpoint to the mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/webhooks/payment", h.handleDelivery)
}

type deliveryPayload struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount"`
}

func (h *WebhookHandler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"erro": "unsupported method"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"erro": "unable to read body"})
		return
	}

	if h.secret != "" && !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		observability.RecordWebhook("assinatura_invalida")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"erro": "assinatura inválida"})
		return
	}

	var payload deliveryPayload
	if err := json.Unmarshal(body, &payload); err != nil || strings.TrimSpace(payload.Reference) == "" {
		observability.RecordWebhook("payload_invalido")
		writeJSON(w, http.StatusBadRequest, map[string]string{"erro": "payload inválido"})
		return
	}

	ctx := r.Context()
	if err := h.store.LogWebhook(ctx, "gateway", "payment_"+payload.Status, body, "processando"); err != nil {
		h.logger.Printf("webhook log write failed: %v", err)
	}

	order, err := h.store.FindOrderByReference(ctx, payload.Reference)
	if err != nil {
		h.logger.Printf("order lookup failed (reference=%s): %v", payload.Reference, err)
		observability.RecordWebhook("erro")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"erro": "erro interno", "received": true})
		return
	}
	if order == nil {
		observability.RecordWebhook("pedido_desconhecido")
		writeJSON(w, http.StatusNotFound, map[string]any{"erro": "pedido não encontrado", "received": true})
		return
	}

	newStatus := mapGatewayStatus(payload.Status)

	var paidAt *time.Time
	if newStatus == OrderApproved {
		ts := h.now().UTC()
		paidAt = &ts
	}

	if err := h.store.UpdateOrderStatus(ctx, order.ID, newStatus, payload.TransactionID, paidAt); err != nil {
		h.logger.Printf("order update failed (order=%s): %v", order.ID, err)
		observability.RecordWebhook("erro")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"erro": "erro interno", "received": true})
		return
	}

	if newStatus == OrderApproved {
		until := h.now().UTC().Add(planRenewalPeriod)
		if err := h.store.ActivateAthletePlan(ctx, order.AthleteID, until); err != nil {
			// The order status already landed; surface the gap for reprocessing.
			h.logger.Printf("plan activation failed (athlete=%s): %v", order.AthleteID, err)
		}
	}

	observability.RecordWebhook(newStatus)
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "status": newStatus})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func mapGatewayStatus(status string) string {
	switch status {
	case "approved", "PAID":
		return OrderApproved
	case "declined", "FAILED":
		return OrderDeclined
	default:
		return OrderPending
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
