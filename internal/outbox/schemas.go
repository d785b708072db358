package outbox

const qrSessionIssuedSchema = `{
  "type": "object",
  "title": "QRSessionIssued",
  "properties": {
    "session_id": {"type": "string"},
    "athlete_id": {"type": "string"},
    "academy_id": {"type": "string"},
    "issued_at": {"type": "string", "format": "date-time"},
    "expires_at": {"type": "string", "format": "date-time"}
  },
  "required": ["session_id", "athlete_id", "academy_id", "issued_at", "expires_at"],
  "additionalProperties": false
}`

const checkinRecordedSchema = `{
  "type": "object",
  "title": "CheckinRecorded",
  "properties": {
    "attendance_id": {"type": "string"},
    "academy_id": {"type": "string"},
    "athlete_id": {"type": "string"},
    "entry_date": {"type": "string", "format": "date"},
    "entry_time": {"type": "string"},
    "method": {"type": "string"},
    "device": {"type": "string"},
    "recorded_at": {"type": "string", "format": "date-time"}
  },
  "required": ["attendance_id", "academy_id", "athlete_id", "entry_date", "entry_time", "method", "recorded_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"qr_session.issued": {
		Schema: qrSessionIssuedSchema,
	},
	"checkin.recorded": {
		Schema: checkinRecordedSchema,
	},
}
