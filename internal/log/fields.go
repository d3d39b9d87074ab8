package log

// Common field names for structured logging.
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldClientIP  = "client_ip"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldUserID    = "user_id"
	FieldDateKey   = "date_key"
	FieldYear      = "year"
	FieldMonth     = "month"
	FieldAttempts  = "attempts"
	FieldBytes     = "bytes"
	FieldBackend   = "backend"
)

// Components defines standard component names.
const (
	ComponentApp     = "app"
	ComponentServer  = "server"
	ComponentStore   = "store"
	ComponentCache   = "cache"
	ComponentRemote  = "remote"
	ComponentOutbox  = "outbox"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentReport  = "report"
	ComponentBackend = "backend"
)
