package log

import "log/slog"

// Shared field names so log lines stay greppable across packages.
const (
	FieldComponent  = "component"
	FieldBotID      = "bot_id"
	FieldChatID     = "chat_id"
	FieldKind       = "kind"
	FieldBillID     = "bill_id"
	FieldFeePercent = "fee_percent"
	FieldCutoffHour = "cutoff_hour"
	FieldEvicted    = "evicted"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
)

// Component names identifying which part of the engine emitted a line.
const (
	ComponentApp     = "app"
	ComponentStore   = "store"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentService = "service"
)

// C is the component attribute for slog calls made outside the wrapped
// Logger, so package-level logging carries the same component field.
func C(component string) slog.Attr {
	return slog.String(FieldComponent, component)
}
