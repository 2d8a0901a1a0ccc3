package domain

import (
	"encoding/json"
	"time"
)

// Event is a platform event (class, workshop, meetup...).
type Event struct {
	ID              int64           `json:"id"`
	Type            string          `json:"type"`
	Title           string          `json:"title"`
	Description     *string         `json:"description,omitempty"`
	Location        *string         `json:"location,omitempty"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	Capacity        *int            `json:"capacity,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	IsPublished     bool            `json:"is_published"`
	CreatedByUserID *int64          `json:"created_by_user_id,omitempty"`
}

// EventCreate is the POST /events/ payload.
type EventCreate struct {
	Type        string          `json:"type" validate:"required"`
	Title       string          `json:"title" validate:"required,max=255"`
	Description *string         `json:"description,omitempty"`
	Location    *string         `json:"location,omitempty"`
	StartTime   time.Time       `json:"start_time" validate:"required"`
	EndTime     time.Time       `json:"end_time" validate:"required,gtfield=StartTime"`
	Capacity    *int            `json:"capacity,omitempty" validate:"omitempty,min=0"`
	Data        json.RawMessage `json:"data,omitempty"`
	IsPublished bool            `json:"is_published"`
}

// EventUpdate is the PATCH /events/{id} payload. Nil fields are left unchanged.
type EventUpdate struct {
	Title       *string         `json:"title,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string         `json:"description,omitempty"`
	Location    *string         `json:"location,omitempty"`
	StartTime   *time.Time      `json:"start_time,omitempty"`
	EndTime     *time.Time      `json:"end_time,omitempty"`
	Capacity    *int            `json:"capacity,omitempty" validate:"omitempty,min=0"`
	Data        json.RawMessage `json:"data,omitempty"`
	IsPublished *bool           `json:"is_published,omitempty"`
}

// EventSummary is the compact event record the assistant attaches to an
// "events" reply. The assistant sends loosely-typed dictionaries, so times
// are kept as the strings it produced.
type EventSummary struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
	Location    string  `json:"location,omitempty"`
	StartTime   string  `json:"start_time,omitempty"`
	EndTime     string  `json:"end_time,omitempty"`
	Capacity    *int    `json:"capacity,omitempty"`
	Status      *string `json:"status,omitempty"`
}
