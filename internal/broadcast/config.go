package broadcast

import (
	"strings"
	"time"
)

// QueueConfig is fixed for the lifetime of a Queue. Changing a tenant's
// tuning replaces the queue instead of mutating it.
type QueueConfig struct {
	DelayBetweenMessages time.Duration
	DelayBetweenBatches  time.Duration
	BatchSize            int
	MaxPerMinute         int
	MaxPerHour           int
	MaxRetries           int
	RetryDelay           time.Duration
}

type queueConfigJSON struct {
	DelayBetweenMessagesMs int64 `json:"delay_between_messages_ms"`
	DelayBetweenBatchesMs  int64 `json:"delay_between_batches_ms"`
	BatchSize              int   `json:"batch_size"`
	MaxPerMinute           int   `json:"max_per_minute"`
	MaxPerHour             int   `json:"max_per_hour"`
	MaxRetries             int   `json:"max_retries"`
	RetryDelayMs           int64 `json:"retry_delay_ms"`
}

func queueConfigView(c QueueConfig) queueConfigJSON {
	return queueConfigJSON{
		DelayBetweenMessagesMs: c.DelayBetweenMessages.Milliseconds(),
		DelayBetweenBatchesMs:  c.DelayBetweenBatches.Milliseconds(),
		BatchSize:              c.BatchSize,
		MaxPerMinute:           c.MaxPerMinute,
		MaxPerHour:             c.MaxPerHour,
		MaxRetries:             c.MaxRetries,
		RetryDelayMs:           c.RetryDelay.Milliseconds(),
	}
}

func (v queueConfigJSON) queueConfig() QueueConfig {
	return QueueConfig{
		DelayBetweenMessages: time.Duration(v.DelayBetweenMessagesMs) * time.Millisecond,
		DelayBetweenBatches:  time.Duration(v.DelayBetweenBatchesMs) * time.Millisecond,
		BatchSize:            v.BatchSize,
		MaxPerMinute:         v.MaxPerMinute,
		MaxPerHour:           v.MaxPerHour,
		MaxRetries:           v.MaxRetries,
		RetryDelay:           time.Duration(v.RetryDelayMs) * time.Millisecond,
	}
}

// AllowedHours bounds submissions to [Start, End) in the tenant's local time.
// Start > End wraps past midnight; Start == End allows every hour.
type AllowedHours struct {
	Start int
	End   int
}

func (h AllowedHours) Contains(hour int) bool {
	switch {
	case h.Start == h.End:
		return true
	case h.Start < h.End:
		return hour >= h.Start && hour < h.End
	default:
		return hour >= h.Start || hour < h.End
	}
}

type TenantConfig struct {
	QueueConfig
	AllowedHours AllowedHours
	Timezone     string
}

// DefaultTenantConfig is deliberately slow: a fresh tenant sends a handful of
// messages per minute with human-looking gaps.
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		QueueConfig: QueueConfig{
			DelayBetweenMessages: 3 * time.Second,
			DelayBetweenBatches:  30 * time.Second,
			BatchSize:            10,
			MaxPerMinute:         20,
			MaxPerHour:           300,
			MaxRetries:           3,
			RetryDelay:           5 * time.Second,
		},
		AllowedHours: AllowedHours{Start: 8, End: 20},
		Timezone:     "UTC",
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c TenantConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// normalized clamps values that would stall or break the processing loop.
func (c QueueConfig) normalized() QueueConfig {
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.MaxPerMinute < 1 {
		c.MaxPerMinute = 1
	}
	if c.MaxPerHour < 1 {
		c.MaxPerHour = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.DelayBetweenMessages < 0 {
		c.DelayBetweenMessages = 0
	}
	if c.DelayBetweenBatches < 0 {
		c.DelayBetweenBatches = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 24 {
		return 24
	}
	return h
}

// TenantOverrides carries optional per-tenant values as stored in MySQL,
// YAML and the HTTP API. Nil fields keep the current value. Durations are
// milliseconds.
type TenantOverrides struct {
	DelayBetweenMessagesMs *int64  `json:"delay_between_messages_ms,omitempty" mapstructure:"delay_between_messages_ms" db:"delay_between_messages_ms"`
	DelayBetweenBatchesMs  *int64  `json:"delay_between_batches_ms,omitempty"  mapstructure:"delay_between_batches_ms"  db:"delay_between_batches_ms"`
	BatchSize              *int    `json:"batch_size,omitempty"                mapstructure:"batch_size"                db:"batch_size"`
	MaxPerMinute           *int    `json:"max_per_minute,omitempty"            mapstructure:"max_per_minute"            db:"max_per_minute"`
	MaxPerHour             *int    `json:"max_per_hour,omitempty"              mapstructure:"max_per_hour"              db:"max_per_hour"`
	MaxRetries             *int    `json:"max_retries,omitempty"               mapstructure:"max_retries"               db:"max_retries"`
	RetryDelayMs           *int64  `json:"retry_delay_ms,omitempty"            mapstructure:"retry_delay_ms"            db:"retry_delay_ms"`
	AllowedHourStart       *int    `json:"allowed_hour_start,omitempty"        mapstructure:"allowed_hour_start"        db:"allowed_hour_start"`
	AllowedHourEnd         *int    `json:"allowed_hour_end,omitempty"          mapstructure:"allowed_hour_end"          db:"allowed_hour_end"`
	Timezone               *string `json:"timezone,omitempty"                  mapstructure:"timezone"                  db:"timezone"`
}

// Empty reports whether no field is set.
func (o TenantOverrides) Empty() bool {
	return o == TenantOverrides{}
}

// Merge returns c with every set field of o applied on top.
func (c TenantConfig) Merge(o TenantOverrides) TenantConfig {
	ms := func(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

	if o.DelayBetweenMessagesMs != nil {
		c.DelayBetweenMessages = ms(*o.DelayBetweenMessagesMs)
	}
	if o.DelayBetweenBatchesMs != nil {
		c.DelayBetweenBatches = ms(*o.DelayBetweenBatchesMs)
	}
	if o.BatchSize != nil {
		c.BatchSize = *o.BatchSize
	}
	if o.MaxPerMinute != nil {
		c.MaxPerMinute = *o.MaxPerMinute
	}
	if o.MaxPerHour != nil {
		c.MaxPerHour = *o.MaxPerHour
	}
	if o.MaxRetries != nil {
		c.MaxRetries = *o.MaxRetries
	}
	if o.RetryDelayMs != nil {
		c.RetryDelay = ms(*o.RetryDelayMs)
	}
	if o.AllowedHourStart != nil {
		c.AllowedHours.Start = clampHour(*o.AllowedHourStart)
	}
	if o.AllowedHourEnd != nil {
		c.AllowedHours.End = clampHour(*o.AllowedHourEnd)
	}
	if o.Timezone != nil {
		c.Timezone = strings.TrimSpace(*o.Timezone)
	}
	c.QueueConfig = c.QueueConfig.normalized()
	return c
}

// Overlay returns o with every set field of next applied on top.
func (o TenantOverrides) Overlay(next TenantOverrides) TenantOverrides {
	if next.DelayBetweenMessagesMs != nil {
		o.DelayBetweenMessagesMs = next.DelayBetweenMessagesMs
	}
	if next.DelayBetweenBatchesMs != nil {
		o.DelayBetweenBatchesMs = next.DelayBetweenBatchesMs
	}
	if next.BatchSize != nil {
		o.BatchSize = next.BatchSize
	}
	if next.MaxPerMinute != nil {
		o.MaxPerMinute = next.MaxPerMinute
	}
	if next.MaxPerHour != nil {
		o.MaxPerHour = next.MaxPerHour
	}
	if next.MaxRetries != nil {
		o.MaxRetries = next.MaxRetries
	}
	if next.RetryDelayMs != nil {
		o.RetryDelayMs = next.RetryDelayMs
	}
	if next.AllowedHourStart != nil {
		o.AllowedHourStart = next.AllowedHourStart
	}
	if next.AllowedHourEnd != nil {
		o.AllowedHourEnd = next.AllowedHourEnd
	}
	if next.Timezone != nil {
		o.Timezone = next.Timezone
	}
	return o
}
