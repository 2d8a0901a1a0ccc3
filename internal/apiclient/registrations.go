package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
)

// Registrations is the /registrations API, including attendance.
type Registrations struct{ c *Client }

// Registrations returns the registrations resource client.
func (c *Client) Registrations() *Registrations { return &Registrations{c: c} }

// RegistrationFilter narrows List. Zero values are omitted.
type RegistrationFilter struct {
	EventID int64
	UserID  int64
	Status  domain.RegistrationStatus
	Limit   int
	Offset  int
}

func (f RegistrationFilter) query() url.Values {
	q := url.Values{}
	if f.EventID > 0 {
		q.Set("event_id", id(f.EventID))
	}
	if f.UserID > 0 {
		q.Set("user_id", id(f.UserID))
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

// Register signs the current user up for an event.
func (r *Registrations) Register(ctx context.Context, in domain.RegistrationCreate) (*domain.Registration, error) {
	if err := r.c.check(in); err != nil {
		return nil, err
	}
	var out domain.Registration
	if err := r.c.doJSON(ctx, send(http.MethodPost, "/registrations/", "/registrations/", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mine returns the current user's registrations.
func (r *Registrations) Mine(ctx context.Context) ([]domain.Registration, error) {
	var out []domain.Registration
	if err := r.c.doJSON(ctx, get("/registrations/my", "/registrations/my", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns registrations across users (manage_events).
func (r *Registrations) List(ctx context.Context, f RegistrationFilter) ([]domain.Registration, error) {
	var out []domain.Registration
	if err := r.c.doJSON(ctx, get("/registrations/", "/registrations/", f.query()), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update changes a registration's status or details (manage_events).
func (r *Registrations) Update(ctx context.Context, registrationID int64, in domain.RegistrationUpdate) (*domain.Registration, error) {
	if err := r.c.check(in); err != nil {
		return nil, err
	}
	var out domain.Registration
	path := "/registrations/" + id(registrationID)
	if err := r.c.doJSON(ctx, send(http.MethodPatch, "/registrations/{id}", path, in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel withdraws a registration.
func (r *Registrations) Cancel(ctx context.Context, registrationID int64) error {
	path := "/registrations/" + id(registrationID)
	return r.c.doJSON(ctx, send(http.MethodDelete, "/registrations/{id}", path, nil), nil)
}

// RecordAttendance records check-in for a registration (manage_events).
func (r *Registrations) RecordAttendance(ctx context.Context, in domain.AttendanceCreate) (*domain.Attendance, error) {
	if err := r.c.check(in); err != nil {
		return nil, err
	}
	var out domain.Attendance
	if err := r.c.doJSON(ctx, send(http.MethodPost, "/registrations/attendance", "/registrations/attendance", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attendance lists attendance records, optionally for one event.
func (r *Registrations) Attendance(ctx context.Context, eventID int64, limit, offset int) ([]domain.Attendance, error) {
	q := RegistrationFilter{EventID: eventID, Limit: limit, Offset: offset}.query()
	var out []domain.Attendance
	if err := r.c.doJSON(ctx, get("/registrations/attendance", "/registrations/attendance", q), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns registration counts for an event.
func (r *Registrations) Stats(ctx context.Context, eventID int64) (*domain.EventRegistrationStats, error) {
	var out domain.EventRegistrationStats
	path := "/registrations/stats/event/" + id(eventID)
	if err := r.c.doJSON(ctx, get("/registrations/stats/event/{id}", path, nil), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
