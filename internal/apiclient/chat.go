package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
)

// ChatGroups is the /chat API for the current user's groups.
type ChatGroups struct{ c *Client }

// ChatGroups returns the chat groups resource client.
func (c *Client) ChatGroups() *ChatGroups { return &ChatGroups{c: c} }

func groupPath(groupID int64) string { return "/chat/groups/" + id(groupID) }

// List returns the groups the current user belongs to.
func (g *ChatGroups) List(ctx context.Context) ([]domain.ChatGroup, error) {
	var out []domain.ChatGroup
	if err := g.c.doJSON(ctx, get("/chat/groups", "/chat/groups", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one group with its members.
func (g *ChatGroups) Get(ctx context.Context, groupID int64) (*domain.ChatGroup, error) {
	var out domain.ChatGroup
	if err := g.c.doJSON(ctx, get("/chat/groups/{id}", groupPath(groupID), nil), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create makes a user-created group owned by the current user.
func (g *ChatGroups) Create(ctx context.Context, in domain.ChatGroupCreate) (*domain.ChatGroup, error) {
	if in.GroupType == "" {
		in.GroupType = domain.GroupUserCreated
	}
	if err := g.c.check(in); err != nil {
		return nil, err
	}
	var out domain.ChatGroup
	if err := g.c.doJSON(ctx, send(http.MethodPost, "/chat/groups", "/chat/groups", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update changes group metadata.
func (g *ChatGroups) Update(ctx context.Context, groupID int64, in domain.ChatGroupUpdate) (*domain.ChatGroup, error) {
	if err := g.c.check(in); err != nil {
		return nil, err
	}
	var out domain.ChatGroup
	if err := g.c.doJSON(ctx, send(http.MethodPut, "/chat/groups/{id}", groupPath(groupID), in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a group.
func (g *ChatGroups) Delete(ctx context.Context, groupID int64) error {
	return g.c.doJSON(ctx, send(http.MethodDelete, "/chat/groups/{id}", groupPath(groupID), nil), nil)
}

// Join adds the current user to a public group.
func (g *ChatGroups) Join(ctx context.Context, groupID int64) error {
	return g.c.doJSON(ctx, send(http.MethodPost, "/chat/groups/{id}/join", groupPath(groupID)+"/join", nil), nil)
}

// Search finds public groups by name.
func (g *ChatGroups) Search(ctx context.Context, query string) ([]domain.ChatGroup, error) {
	var out []domain.ChatGroup
	q := url.Values{"q": {query}}
	if err := g.c.doJSON(ctx, get("/chat/search/groups", "/chat/search/groups", q), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddMember adds a user to a user-created group.
func (g *ChatGroups) AddMember(ctx context.Context, groupID int64, in domain.ChatGroupMemberCreate) error {
	if err := g.c.check(in); err != nil {
		return err
	}
	return g.c.doJSON(ctx, send(http.MethodPost, "/chat/groups/{id}/members", groupPath(groupID)+"/members", in), nil)
}

// RemoveMember removes a user from a group.
func (g *ChatGroups) RemoveMember(ctx context.Context, groupID, userID int64) error {
	path := groupPath(groupID) + "/members/" + id(userID)
	return g.c.doJSON(ctx, send(http.MethodDelete, "/chat/groups/{id}/members/{user_id}", path, nil), nil)
}

// Messages pages through a group's history, newest last.
func (g *ChatGroups) Messages(ctx context.Context, groupID int64, skip, limit int) ([]domain.GroupMessage, error) {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []domain.GroupMessage
	if err := g.c.doJSON(ctx, get("/chat/groups/{id}/messages", groupPath(groupID)+"/messages", q), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send posts a message to a group.
func (g *ChatGroups) Send(ctx context.Context, groupID int64, content string) (*domain.GroupMessage, error) {
	in := domain.GroupMessageCreate{GroupID: groupID, Content: content, MessageType: "text"}
	if err := g.c.check(in); err != nil {
		return nil, err
	}
	var out domain.GroupMessage
	if err := g.c.doJSON(ctx, send(http.MethodPost, "/chat/groups/{id}/messages", groupPath(groupID)+"/messages", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminChat is the /chat/admin API for admin and instructor managed groups.
type AdminChat struct{ c *Client }

// AdminChat returns the managed groups resource client.
func (c *Client) AdminChat() *AdminChat { return &AdminChat{c: c} }

func adminGroupPath(groupID int64) string { return "/chat/admin/groups/" + id(groupID) }

// Managed lists groups managed by the current user.
func (a *AdminChat) Managed(ctx context.Context) ([]domain.ChatGroup, error) {
	var out []domain.ChatGroup
	if err := a.c.doJSON(ctx, get("/chat/admin/groups", "/chat/admin/groups", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// All lists every group on the platform (admin only).
func (a *AdminChat) All(ctx context.Context) ([]domain.ChatGroup, error) {
	var out []domain.ChatGroup
	if err := a.c.doJSON(ctx, get("/chat/admin/groups/all", "/chat/admin/groups/all", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create makes a managed group with an initial member list.
func (a *AdminChat) Create(ctx context.Context, in domain.ManagedGroupCreate) (*domain.ChatGroup, error) {
	if err := a.c.check(in); err != nil {
		return nil, err
	}
	var out domain.ChatGroup
	if err := a.c.doJSON(ctx, send(http.MethodPost, "/chat/admin/groups", "/chat/admin/groups", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update changes a managed group's metadata.
func (a *AdminChat) Update(ctx context.Context, groupID int64, in domain.ChatGroupUpdate) (*domain.ChatGroup, error) {
	if err := a.c.check(in); err != nil {
		return nil, err
	}
	var out domain.ChatGroup
	if err := a.c.doJSON(ctx, send(http.MethodPut, "/chat/admin/groups/{id}", adminGroupPath(groupID), in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a managed group.
func (a *AdminChat) Delete(ctx context.Context, groupID int64) error {
	return a.c.doJSON(ctx, send(http.MethodDelete, "/chat/admin/groups/{id}", adminGroupPath(groupID), nil), nil)
}

// AssignMember adds a user to a managed group.
func (a *AdminChat) AssignMember(ctx context.Context, groupID, userID int64) error {
	path := adminGroupPath(groupID) + "/members/" + id(userID)
	return a.c.doJSON(ctx, send(http.MethodPost, "/chat/admin/groups/{id}/members/{user_id}", path, nil), nil)
}

// RemoveMember removes a user from a managed group.
func (a *AdminChat) RemoveMember(ctx context.Context, groupID, userID int64) error {
	path := adminGroupPath(groupID) + "/members/" + id(userID)
	return a.c.doJSON(ctx, send(http.MethodDelete, "/chat/admin/groups/{id}/members/{user_id}", path, nil), nil)
}
