package model

// BroadcastRequest is the payload consumed from the intake topic.
type BroadcastRequest struct {
	RequestID string            `json:"request_id,omitempty"`
	TenantID  string            `json:"tenant_id"`
	Messages  []OutboundMessage `json:"messages"`
}
