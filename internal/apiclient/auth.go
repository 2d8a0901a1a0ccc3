package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
)

// Login exchanges credentials for a bearer token. It never touches the token
// store: a rejected login returns ErrInvalidCredentials and any previously
// stored token is left alone.
func (c *Client) Login(ctx context.Context, username, password string) (*domain.Token, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := c.Fetch(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/token",
		Header:    http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Body:      []byte(form.Encode()),
		Anonymous: true,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusBadRequest:
		return nil, ErrInvalidCredentials
	case !resp.OK():
		return nil, newAPIError(resp)
	}

	var tok domain.Token
	if err := json.Unmarshal(resp.Body, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return nil, errors.New("token response missing access_token")
	}
	return &tok, nil
}

// Signup creates an account. The caller logs in separately.
func (c *Client) Signup(ctx context.Context, req domain.SignupRequest) (*domain.User, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	resp, err := c.Fetch(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/signup",
		Body:      body,
		Anonymous: true,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, newAPIError(resp)
	}
	var u domain.User
	if err := json.Unmarshal(resp.Body, &u); err != nil {
		return nil, fmt.Errorf("failed to parse api response: %w", err)
	}
	return &u, nil
}

// Me returns the profile of the token holder.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.doJSON(ctx, get("/auth/me", "/auth/me", nil), &u); err != nil {
		return nil, err
	}
	return &u, nil
}
