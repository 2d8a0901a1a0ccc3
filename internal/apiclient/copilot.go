package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
)

const copilotPath = "/api/copilotkit"

// ActionError is a copilot action the runtime refused or failed to run.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("assistant action %s failed: %s", e.Action, e.Message)
}

// Copilot calls the assistant's action runtime.
type Copilot struct{ c *Client }

// Copilot returns the action runtime client.
func (c *Client) Copilot() *Copilot { return &Copilot{c: c} }

// Run invokes action with params and decodes a successful result's data into
// out. An unsuccessful result is returned as *ActionError.
func (p *Copilot) Run(ctx context.Context, action string, params, out any) error {
	in := domain.ActionRequest{Action: action, Parameters: params}
	if err := p.c.check(in); err != nil {
		return err
	}
	if params != nil {
		if err := p.c.check(params); err != nil {
			return err
		}
	}

	var res domain.ActionResult
	if err := p.c.doJSON(ctx, send(http.MethodPost, copilotPath, copilotPath, in), &res); err != nil {
		return err
	}
	if !res.Success {
		return &ActionError{Action: action, Message: res.Error}
	}
	if out == nil || len(res.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Data, out); err != nil {
		return fmt.Errorf("decode %s result: %w", action, err)
	}
	return nil
}

// SearchEvents finds published events by text and type.
func (p *Copilot) SearchEvents(ctx context.Context, q domain.ActionSearch) (*domain.ActionEvents, error) {
	var out domain.ActionEvents
	if err := p.Run(ctx, domain.ActionSearchEvents, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateEvent creates an event through the assistant.
func (p *Copilot) CreateEvent(ctx context.Context, in domain.ActionEventCreate) (*domain.ActionEventCreated, error) {
	var out domain.ActionEventCreated
	if err := p.Run(ctx, domain.ActionCreateEvent, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterForEvent registers the current user through the assistant.
func (p *Copilot) RegisterForEvent(ctx context.Context, eventID int64) (*domain.ActionRegistered, error) {
	var out domain.ActionRegistered
	if err := p.Run(ctx, domain.ActionRegisterForEvent, domain.ActionRegister{EventID: eventID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Suggest asks for completions of text. Each suggestion is returned as the
// server sent it.
func (p *Copilot) Suggest(ctx context.Context, text string) ([]json.RawMessage, error) {
	var out domain.Suggestions
	in := domain.SuggestionRequest{Type: "suggestions", Text: text}
	if err := p.c.doJSON(ctx, send(http.MethodPost, copilotPath, copilotPath, in), &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}
