package entity

import "time"

type Topic struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Question  string    `json:"question"`
	RadiusKm  *float64  `json:"radius_km,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	HiddenBy  []string  `json:"-"`
}

func (t *Topic) HasLocation() bool {
	return t.Latitude != nil && t.Longitude != nil
}

func (t *Topic) IsHiddenFor(uid string) bool {
	for _, id := range t.HiddenBy {
		if id == uid {
			return true
		}
	}
	return false
}
