package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
)

// Events is the /events API.
type Events struct{ c *Client }

// Events returns the events resource client.
func (c *Client) Events() *Events { return &Events{c: c} }

// List returns events, optionally filtered by type.
func (e *Events) List(ctx context.Context, eventType string) ([]domain.Event, error) {
	var q url.Values
	if eventType != "" {
		q = url.Values{"type": {eventType}}
	}
	var out []domain.Event
	if err := e.c.doJSON(ctx, get("/events/", "/events/", q), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one event.
func (e *Events) Get(ctx context.Context, eventID int64) (*domain.Event, error) {
	var out domain.Event
	if err := e.c.doJSON(ctx, get("/events/{id}", "/events/"+id(eventID), nil), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create validates and creates an event.
func (e *Events) Create(ctx context.Context, in domain.EventCreate) (*domain.Event, error) {
	if err := e.c.check(in); err != nil {
		return nil, err
	}
	var out domain.Event
	if err := e.c.doJSON(ctx, send(http.MethodPost, "/events/", "/events/", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update patches an event.
func (e *Events) Update(ctx context.Context, eventID int64, in domain.EventUpdate) (*domain.Event, error) {
	if err := e.c.check(in); err != nil {
		return nil, err
	}
	var out domain.Event
	if err := e.c.doJSON(ctx, send(http.MethodPatch, "/events/{id}", "/events/"+id(eventID), in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an event.
func (e *Events) Delete(ctx context.Context, eventID int64) error {
	return e.c.doJSON(ctx, send(http.MethodDelete, "/events/{id}", "/events/"+id(eventID), nil), nil)
}

// Types maps event type names to their schema names.
func (e *Events) Types(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if err := e.c.doJSON(ctx, get("/events/types", "/events/types", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TypesDetailed returns per-type metadata as the server describes it.
func (e *Events) TypesDetailed(ctx context.Context) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if err := e.c.doJSON(ctx, get("/events/types/detailed", "/events/types/detailed", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Categories maps category keys to display names.
func (e *Events) Categories(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if err := e.c.doJSON(ctx, get("/events/types/categories", "/events/types/categories", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TypesInCategory returns the event types registered under category.
func (e *Events) TypesInCategory(ctx context.Context, category string) (json.RawMessage, error) {
	var out json.RawMessage
	path := "/events/types/category/" + url.PathEscape(category)
	if err := e.c.doJSON(ctx, get("/events/types/category/{category}", path, nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}
