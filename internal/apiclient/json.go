package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx response from a typed call.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Detail)
}

// Is lets callers match common statuses with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	}
	return false
}

// newAPIError extracts FastAPI's "detail" field, which is either a string or
// a list of validation errors.
func newAPIError(resp *Response) *APIError {
	detail := parseDetail(resp.Body)
	if detail == "" {
		detail = strings.TrimSpace(string(resp.Body))
	}
	if detail == "" {
		detail = http.StatusText(resp.Status)
	}
	return &APIError{Status: resp.Status, Detail: detail}
}

func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil && len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if len(it.Loc) > 0 {
				loc := make([]string, 0, len(it.Loc))
				for _, l := range it.Loc {
					loc = append(loc, fmt.Sprint(l))
				}
				parts = append(parts, strings.Join(loc, ".")+": "+it.Msg)
				continue
			}
			parts = append(parts, it.Msg)
		}
		return strings.Join(parts, "; ")
	}
	return string(envelope.Detail)
}

// call is one typed JSON request.
type call struct {
	method string
	route  string
	path   string
	query  url.Values
	in     any
}

func get(route, path string, query url.Values) call {
	return call{method: http.MethodGet, route: route, path: path, query: query}
}

func send(method, route, path string, in any) call {
	return call{method: method, route: route, path: path, in: in}
}

// doJSON encodes cl.in, performs the request, and decodes a 2xx body into out.
func (c *Client) doJSON(ctx context.Context, cl call, out any) error {
	req := Request{
		Method: cl.method,
		Path:   cl.path,
		Route:  cl.route,
		Query:  cl.query,
	}
	if cl.in != nil {
		b, err := json.Marshal(cl.in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = b
	}

	resp, err := c.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return newAPIError(resp)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to parse api response: %w", err)
	}
	return nil
}

func (c *Client) check(v any) error {
	if err := c.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func id(v int64) string {
	return fmt.Sprint(v)
}
