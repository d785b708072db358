package domain

// DenialReason is the stable machine-readable code attached to every
// rejected redemption. The string values are the product's wire codes.
type DenialReason string

const (
	DenialMissingParams DenialReason = "parametros_incompletos"
	DenialInvalidQR     DenialReason = "qr_invalido"
	DenialExpiredQR     DenialReason = "qr_expirado"
	DenialUsedQR        DenialReason = "qr_ja_utilizado"
	DenialInactivePlan  DenialReason = "plano_inativo"
	DenialInactiveGym   DenialReason = "academia_inativa"
	DenialDuplicate     DenialReason = "checkin_duplicado"
)

var denialMessages = map[DenialReason]string{
	DenialMissingParams: "Parâmetros incompletos",
	DenialInvalidQR:     "QR inválido",
	DenialExpiredQR:     "QR expirado. Gere um novo código para entrar.",
	DenialUsedQR:        "QR já utilizado",
	DenialInactivePlan:  "Plano inativo. Complete o pagamento para continuar.",
	DenialInactiveGym:   "Academia sem plano ativo",
	DenialDuplicate:     "Entrada já registrada hoje",
}

// CheckinDecision is the result of a redemption attempt: either an
// authorization carrying the committed attendance record, or a denial
// carrying its reason. Exactly one of the two shapes is populated.
type CheckinDecision struct {
	Authorized      bool
	Reason          DenialReason
	Message         string
	AthleteName     string
	Record          *AttendanceRecord
	VisitsThisMonth int
}

// Denied builds the denial variant for the given reason.
func Denied(reason DenialReason) CheckinDecision {
	return CheckinDecision{Reason: reason, Message: denialMessages[reason]}
}

// DeniedWithMessage builds a denial with a non-default human message.
func DeniedWithMessage(reason DenialReason, message string) CheckinDecision {
	return CheckinDecision{Reason: reason, Message: message}
}

// Approved builds the success variant.
func Approved(athleteName string, record AttendanceRecord, visitsThisMonth int) CheckinDecision {
	return CheckinDecision{
		Authorized:      true,
		Message:         "Bem-vindo!",
		AthleteName:     athleteName,
		Record:          &record,
		VisitsThisMonth: visitsThisMonth,
	}
}
