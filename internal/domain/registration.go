package domain

import "time"

// RegistrationStatus is the lifecycle state of an event registration.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationWaitlist  RegistrationStatus = "waitlist"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

// Registration is a user's registration for an event.
type Registration struct {
	ID                  int64              `json:"id"`
	EventID             int64              `json:"event_id"`
	UserID              int64              `json:"user_id"`
	Status              RegistrationStatus `json:"status"`
	RegistrationDate    time.Time          `json:"registration_date"`
	Notes               *string            `json:"notes,omitempty"`
	EmergencyContact    *string            `json:"emergency_contact,omitempty"`
	DietaryRestrictions *string            `json:"dietary_restrictions,omitempty"`
	SpecialNeeds        *string            `json:"special_needs,omitempty"`
	UserEmail           *string            `json:"user_email,omitempty"`
	UserFullName        *string            `json:"user_full_name,omitempty"`
	EventTitle          *string            `json:"event_title,omitempty"`
}

// RegistrationCreate is the POST /registrations/ payload.
type RegistrationCreate struct {
	EventID             int64   `json:"event_id" validate:"required,gt=0"`
	Notes               *string `json:"notes,omitempty"`
	EmergencyContact    *string `json:"emergency_contact,omitempty"`
	DietaryRestrictions *string `json:"dietary_restrictions,omitempty"`
	SpecialNeeds        *string `json:"special_needs,omitempty"`
}

// RegistrationUpdate is the PATCH /registrations/{id} payload.
type RegistrationUpdate struct {
	Status              *RegistrationStatus `json:"status,omitempty" validate:"omitempty,oneof=pending confirmed waitlist cancelled"`
	Notes               *string             `json:"notes,omitempty"`
	EmergencyContact    *string             `json:"emergency_contact,omitempty"`
	DietaryRestrictions *string             `json:"dietary_restrictions,omitempty"`
	SpecialNeeds        *string             `json:"special_needs,omitempty"`
}

// Attendance records whether a registered user showed up.
type Attendance struct {
	ID               int64      `json:"id"`
	RegistrationID   int64      `json:"registration_id"`
	CheckInTime      *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime     *time.Time `json:"check_out_time,omitempty"`
	WasPresent       bool       `json:"was_present"`
	Notes            *string    `json:"notes,omitempty"`
	RecordedByUserID *int64     `json:"recorded_by_user_id,omitempty"`
	UserEmail        *string    `json:"user_email,omitempty"`
	UserFullName     *string    `json:"user_full_name,omitempty"`
}

// AttendanceCreate is the POST /registrations/attendance payload.
type AttendanceCreate struct {
	RegistrationID int64      `json:"registration_id" validate:"required,gt=0"`
	WasPresent     bool       `json:"was_present"`
	CheckInTime    *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime   *time.Time `json:"check_out_time,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

// EventRegistrationStats aggregates registrations for one event.
type EventRegistrationStats struct {
	EventID                int64    `json:"event_id"`
	EventTitle             string   `json:"event_title"`
	TotalCapacity          *int     `json:"total_capacity,omitempty"`
	TotalRegistrations     int      `json:"total_registrations"`
	ConfirmedRegistrations int      `json:"confirmed_registrations"`
	PendingRegistrations   int      `json:"pending_registrations"`
	WaitlistRegistrations  int      `json:"waitlist_registrations"`
	CancelledRegistrations int      `json:"cancelled_registrations"`
	AttendanceRate         *float64 `json:"attendance_rate,omitempty"`
}
