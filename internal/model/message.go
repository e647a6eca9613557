package model

import "time"

type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the dispatcher will never touch the message again.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// OutboundMessage is what callers submit for a campaign.
type OutboundMessage struct {
	To         string `json:"to"`
	Body       string `json:"body"`
	ChannelRef string `json:"channel_ref"` // gateway instance / session
	Credential string `json:"credential"`  // per-channel secret
}

// Message is the unit of work owned by exactly one tenant queue.
type Message struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenant_id"`
	QueueID    string        `json:"queue_id"`
	To         string        `json:"to"`
	Body       string        `json:"body"`
	ChannelRef string        `json:"channel_ref"`
	Credential string        `json:"-"`
	Retries    int           `json:"retries"`
	Status     MessageStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	SentAt     *time.Time    `json:"sent_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
