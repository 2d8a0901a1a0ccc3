package domain

import "encoding/json"

// Assistant action names understood by the copilot runtime.
const (
	ActionSearchEvents     = "searchEvents"
	ActionCreateEvent      = "createEvent"
	ActionRegisterForEvent = "registerForEvent"
)

// ActionRequest is the POST /api/copilotkit body for an action.
type ActionRequest struct {
	Action     string `json:"action" validate:"required"`
	Parameters any    `json:"parameters"`
}

// ActionResult wraps every action reply. Data is set when Success is true,
// Error otherwise.
type ActionResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ActionSearch is the searchEvents parameter set.
type ActionSearch struct {
	Query     string `json:"query,omitempty"`
	EventType string `json:"eventType,omitempty"`
}

// ActionEvent is one event as the action runtime reports it.
type ActionEvent struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Description   *string `json:"description,omitempty"`
	EventType     string  `json:"event_type"`
	StartDateTime string  `json:"start_datetime"`
	EndDateTime   string  `json:"end_datetime"`
}

// ActionEvents is the searchEvents result.
type ActionEvents struct {
	Events  []ActionEvent `json:"events"`
	Count   int           `json:"count"`
	Message string        `json:"message"`
}

// ActionEventCreate is the createEvent parameter set. Times are ISO 8601.
type ActionEventCreate struct {
	Title         string `json:"title" validate:"required,max=255"`
	Description   string `json:"description,omitempty"`
	EventType     string `json:"eventType" validate:"required"`
	StartDateTime string `json:"startDateTime" validate:"required"`
	EndDateTime   string `json:"endDateTime" validate:"required"`
}

// ActionEventCreated is the createEvent result.
type ActionEventCreated struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// ActionRegister is the registerForEvent parameter set.
type ActionRegister struct {
	EventID int64 `json:"eventId" validate:"required,gt=0"`
}

// ActionRegistered is the registerForEvent result.
type ActionRegistered struct {
	RegistrationID *int64 `json:"registration_id,omitempty"`
	EventTitle     string `json:"event_title"`
	Message        string `json:"message"`
}

// SuggestionRequest asks the runtime for completions of partially typed text.
type SuggestionRequest struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Suggestions is the runtime's suggestion list.
type Suggestions struct {
	Suggestions []json.RawMessage `json:"suggestions"`
}
