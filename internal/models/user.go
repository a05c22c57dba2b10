package models

import (
	"strings"
	"time"
)

type User struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Department string    `json:"department,omitempty"`
	IsAdmin    bool      `json:"is_admin"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Actor is the user on whose behalf a lifecycle operation runs.
type Actor struct {
	UserID  int64
	Name    string
	IsAdmin bool
}

// CanModify reports whether the actor may mutate a reservation owned by ownerID.
func (a Actor) CanModify(ownerID int64) bool {
	return a.IsAdmin || (a.UserID != 0 && a.UserID == ownerID)
}

// NormalizePhone keeps only the digits of phone.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
