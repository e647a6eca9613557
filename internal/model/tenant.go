package model

import "time"

type Tenant struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	APIKey       string    `db:"api_key"`
	Status       string    `db:"status"`         // active|suspended
	RateLimitRPS *int      `db:"rate_limit_rps"` // nullable
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (t Tenant) Active() bool { return t.Status == "active" }
