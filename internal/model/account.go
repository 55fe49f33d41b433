package model

import "time"

// Account is the public identity of a player.
type Account struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"-"`
}
