package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/EmirPirija/lmx-chat/internal/model"
	"go.uber.org/zap"
)

// Client talks to the marketplace backend's chat REST API. It owns no
// state; every call is a plain request/response round trip. Fire-and-forget
// commands (mute, pin, archive, seen) return an error the caller is free
// to log and ignore.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a REST client for the given base URL and bearer token.
func New(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// ChatList fetches one page of the conversation list for a role.
func (c *Client) ChatList(ctx context.Context, role model.Role, page int) (*model.ConversationPage, error) {
	q := url.Values{}
	q.Set("type", string(role))
	q.Set("page", fmt.Sprint(page))

	var out model.ConversationPage
	if err := c.do(ctx, http.MethodGet, "/api/chat/list?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("chat list (%s, page %d): %w", role, page, err)
	}
	return &out, nil
}

// ChatMessages fetches one page of a conversation's history, newest-first.
func (c *Client) ChatMessages(ctx context.Context, conversationID int64, page int) (*model.MessagePage, error) {
	q := url.Values{}
	q.Set("item_offer_id", fmt.Sprint(conversationID))
	q.Set("page", fmt.Sprint(page))

	var out model.MessagePage
	if err := c.do(ctx, http.MethodGet, "/api/chat/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("chat messages (conv %d, page %d): %w", conversationID, page, err)
	}
	return &out, nil
}

// SendMessage posts a new message and returns the server-confirmed entity.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, text, messageType string) (*model.Message, error) {
	body := map[string]any{
		"item_offer_id": conversationID,
		"message":       text,
		"message_type":  messageType,
	}
	var out struct {
		Data model.Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", body, &out); err != nil {
		return nil, fmt.Errorf("send message (conv %d): %w", conversationID, err)
	}
	return &out.Data, nil
}

// MarkSeen marks all messages in a conversation as seen by the local user.
func (c *Client) MarkSeen(ctx context.Context, conversationID int64) error {
	return c.command(ctx, conversationID, "seen")
}

// MuteChat silences notifications for a conversation.
func (c *Client) MuteChat(ctx context.Context, conversationID int64) error {
	return c.command(ctx, conversationID, "mute")
}

// UnmuteChat re-enables notifications for a conversation.
func (c *Client) UnmuteChat(ctx context.Context, conversationID int64) error {
	return c.command(ctx, conversationID, "unmute")
}

// ArchiveChat moves a conversation to the archive.
func (c *Client) ArchiveChat(ctx context.Context, conversationID int64) error {
	return c.command(ctx, conversationID, "archive")
}

// UnarchiveChat restores a conversation from the archive.
func (c *Client) UnarchiveChat(ctx context.Context, conversationID int64) error {
	return c.command(ctx, conversationID, "unarchive")
}

// PinChat pins a conversation to the top of its list.
func (c *Client) PinChat(ctx context.Context, conversationID int64) error {
	return c.command(ctx, conversationID, "pin")
}

// UnpinChat removes the pin from a conversation.
func (c *Client) UnpinChat(ctx context.Context, conversationID int64) error {
	return c.command(ctx, conversationID, "unpin")
}

// DeleteChat removes a conversation server-side. The local copy is kept
// until the next list refresh.
func (c *Client) DeleteChat(ctx context.Context, conversationID int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chat/%d", conversationID), nil, nil); err != nil {
		return fmt.Errorf("delete chat %d: %w", conversationID, err)
	}
	return nil
}

func (c *Client) command(ctx context.Context, conversationID int64, action string) error {
	path := fmt.Sprintf("/api/chat/%d/%s", conversationID, action)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("%s chat %d: %w", action, conversationID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
