package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"atelier/internal/api"
)

var ErrAPIUnavailable = errors.New("atelier API unavailable")

// APIError is a non-2xx response decoded from the daemon's error envelope.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
	Hint       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// ListQuery narrows ListGenerations.
type ListQuery struct {
	FavoritesOnly bool
	IncludeHidden bool
	Limit         int
	Offset        int
}

// New returns a client for the daemon listening on bind. An empty bind
// returns a nil client whose calls fail with ErrAPIUnavailable.
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		http:  &http.Client{Timeout: 30 * time.Second},
		token: strings.TrimSpace(token),
	}, nil
}

func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	var resp api.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/generations", nil, req, &resp)
	return resp, err
}

func (c *Client) Generation(ctx context.Context, id string) (api.GenerationStatusResponse, error) {
	var resp api.GenerationStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/generations/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) ListGenerations(ctx context.Context, q ListQuery) (api.GenerationListResponse, error) {
	values := url.Values{}
	if q.FavoritesOnly {
		values.Set("favorites", "1")
	}
	if q.IncludeHidden {
		values.Set("include_hidden", "1")
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	var resp api.GenerationListResponse
	err := c.do(ctx, http.MethodGet, "/api/generations", values, nil, &resp)
	return resp, err
}

func (c *Client) Lineage(ctx context.Context, id string) (api.GenerationListResponse, error) {
	var resp api.GenerationListResponse
	err := c.do(ctx, http.MethodGet, "/api/generations/"+url.PathEscape(id)+"/lineage", nil, nil, &resp)
	return resp, err
}

func (c *Client) Remix(ctx context.Context, id string, req api.RemixRequest) (api.SubmitResponse, error) {
	var resp api.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/generations/"+url.PathEscape(id)+"/remix", nil, req, &resp)
	return resp, err
}

func (c *Client) ToggleFavorite(ctx context.Context, id string) (api.ToggleResponse, error) {
	var resp api.ToggleResponse
	err := c.do(ctx, http.MethodPost, "/api/generations/"+url.PathEscape(id)+"/favorite", nil, nil, &resp)
	return resp, err
}

func (c *Client) ToggleHidden(ctx context.Context, id string) (api.ToggleResponse, error) {
	var resp api.ToggleResponse
	err := c.do(ctx, http.MethodPost, "/api/generations/"+url.PathEscape(id)+"/hidden", nil, nil, &resp)
	return resp, err
}

func (c *Client) DeleteGeneration(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/generations/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Queue(ctx context.Context) (api.QueueListResponse, error) {
	var resp api.QueueListResponse
	err := c.do(ctx, http.MethodGet, "/api/queue", nil, nil, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, status string, page, limit int) (api.HistoryResponse, error) {
	values := url.Values{}
	if strings.TrimSpace(status) != "" {
		values.Set("status", status)
	}
	if page > 0 {
		values.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var resp api.HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/queue/history", values, nil, &resp)
	return resp, err
}

func (c *Client) QueueItem(ctx context.Context, id string) (api.QueueItemResponse, error) {
	var resp api.QueueItemResponse
	err := c.do(ctx, http.MethodGet, "/api/queue/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) DeleteQueueItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var resp api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope api.ErrorResponse
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); decodeErr == nil {
			apiErr.Message = envelope.Error
			apiErr.Kind = envelope.Kind
			apiErr.Hint = envelope.Hint
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsAPIUnavailable reports whether err means no daemon is listening.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
