package models

import "time"

// FarmLocation is a user's saved place. A user has at most one default location.
type FarmLocation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"username"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// HasCoordinates reports whether both coordinates are present. Zero is a valid coordinate.
func (l FarmLocation) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}
