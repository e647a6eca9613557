package model

import "time"

// Delivery is one terminal outcome as stored in the ClickHouse delivery log.
type Delivery struct {
	MessageID  string     `db:"message_id" json:"message_id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	QueueID    string     `db:"queue_id" json:"queue_id"`
	Recipient  string     `db:"recipient" json:"recipient"`
	ChannelRef string     `db:"channel_ref" json:"channel_ref"`
	Status     string     `db:"status" json:"status"`
	Retries    uint8      `db:"retries" json:"retries"`
	Error      string     `db:"error" json:"error,omitempty"`
	SentAt     *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	RecordedAt time.Time  `db:"recorded_at" json:"recorded_at"`
}

// DeliveryFromMessage flattens a finished message into a log row.
func DeliveryFromMessage(m Message, at time.Time) Delivery {
	retries := m.Retries
	if retries > 255 {
		retries = 255
	}
	return Delivery{
		MessageID:  m.ID,
		TenantID:   m.TenantID,
		QueueID:    m.QueueID,
		Recipient:  m.To,
		ChannelRef: m.ChannelRef,
		Status:     m.Status.String(),
		Retries:    uint8(retries),
		Error:      m.Error,
		SentAt:     m.SentAt,
		RecordedAt: at,
	}
}
