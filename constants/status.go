package constants

// Status is the canonical pipeline status carried by status events.
type Status string

// Stable values (these exact strings go over the wire).
const (
	StatusProcessing Status = "processing" // a stage transition inside a live invocation
	StatusSuccess    Status = "success"    // terminal: receipt persisted
	StatusFailed     Status = "failed"     // terminal or informational failure
)

// EventTypeReceiptUpdate is the type discriminator on every status event.
const EventTypeReceiptUpdate = "receipt_update"
