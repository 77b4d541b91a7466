package log

// Common field names for structured logging.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldOwner      = "owner"
	FieldRecordID   = "record_id"
	FieldCategory   = "category"
	FieldAmount     = "amount"
	FieldCurrency   = "currency"
	FieldReceiptRef = "receipt_ref"
)

// Components defines standard component names.
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentExpense  = "expense"
	ComponentStorage  = "storage"
	ComponentAMQP     = "amqp"
	ComponentView     = "view"
	ComponentReceipts = "receipts"
	ComponentIdentity = "identity"
	ComponentCache    = "cache"
	ComponentSecurity = "security"
)

// Operations defines standard operation names.
const (
	OpCreate   = "create"
	OpQuery    = "query"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpRefresh  = "refresh"
	OpResolve  = "resolve"
	OpRender   = "render"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
