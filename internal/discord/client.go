package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://discord.com/api/v10"

	// MaxDownloadSize caps attachment downloads.
	MaxDownloadSize = 25 << 20
)

var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrTooLarge    = errors.New("attachment too large")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api: status %d: %s", e.StatusCode, e.Body)
}

// Client is safe for concurrent use. Fields must not change after the first
// call.
type Client struct {
	Token   string
	AppID   string
	BaseURL string
	HTTP    *http.Client

	once   sync.Once
	client *http.Client
}

func (c *Client) httpClient() *http.Client {
	c.once.Do(func() {
		c.client = c.HTTP
		if c.client == nil {
			c.client = &http.Client{Timeout: 10 * time.Second}
		}
	})
	return c.client
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return defaultBaseURL
	}
	return c.BaseURL
}

// SendMessage posts msg to a channel and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg Message) (string, error) {
	if channelID == "" {
		return "", fmt.Errorf("missing discord channel")
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", msg, &resp); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("send message: missing message id")
	}
	return resp.ID, nil
}

// EditOriginalResponse replaces the deferred reply of an interaction.
func (c *Client) EditOriginalResponse(ctx context.Context, token string, msg Message) error {
	path := fmt.Sprintf("/webhooks/%s/%s/messages/@original", url.PathEscape(c.AppID), url.PathEscape(token))
	if err := c.do(ctx, http.MethodPatch, path, msg, nil); err != nil {
		return fmt.Errorf("edit interaction response: %w", err)
	}
	return nil
}

// RegisterCommands replaces the application's guild commands with cmds.
func (c *Client) RegisterCommands(ctx context.Context, guildID string, cmds []ApplicationCommand) error {
	path := fmt.Sprintf("/applications/%s/guilds/%s/commands", url.PathEscape(c.AppID), url.PathEscape(guildID))
	if err := c.do(ctx, http.MethodPut, path, cmds, nil); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

// ListMembers pages through every member of a guild.
func (c *Client) ListMembers(ctx context.Context, guildID string) ([]Member, error) {
	var all []Member
	after := "0"
	for {
		path := fmt.Sprintf("/guilds/%s/members?limit=1000&after=%s", url.PathEscape(guildID), url.QueryEscape(after))
		var page []Member
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		all = append(all, page...)
		if len(page) < 1000 {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// Download fetches an attachment from the CDN.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: %w", &APIError{StatusCode: res.StatusCode})
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, MaxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if len(data) > MaxDownloadSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.Token == "" {
		return fmt.Errorf("missing discord token")
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &APIError{StatusCode: res.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
