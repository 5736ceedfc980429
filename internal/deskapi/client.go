package deskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// APIError represents a non-2xx response from the help-desk API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("desk api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("desk api error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("desk api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("desk api error (%d)", e.Status)
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the help-desk ticket API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient constructs a help-desk API client.
func NewClient(baseURL, token string) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: normalized,
		token:   token,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

// NormalizeBaseURL normalizes a backend base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("backend url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("backend url must include scheme (https://)")
	}
	value = strings.TrimRight(value, "/")
	return value, nil
}

// SetToken swaps the bearer token used for subsequent requests. Used when
// the config file rotates credentials under a live watch session.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Ticket fetches a ticket with its full comment list.
func (c *Client) Ticket(ctx context.Context, ticketRef string) (TicketResponse, error) {
	var resp TicketResponse
	path := "/tickets/" + url.PathEscape(ticketRef)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return TicketResponse{}, err
	}
	return resp, nil
}

// PostComment creates a text comment on a ticket.
func (c *Client) PostComment(ctx context.Context, ticketID string, req CommentRequest) (Comment, error) {
	var resp Comment
	path := "/tickets/" + url.PathEscape(ticketID) + "/comments"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, req, &resp); err != nil {
		return Comment{}, err
	}
	return resp, nil
}

// PostAttachment creates a comment carrying a file on a ticket.
func (c *Client) PostAttachment(ctx context.Context, ticketID string, req AttachmentRequest) (Comment, error) {
	path := "/tickets/" + url.PathEscape(ticketID) + "/comments"
	endpoint, err := c.buildURL(path, nil)
	if err != nil {
		return Comment{}, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("attachment", req.FileName)
	if err != nil {
		return Comment{}, err
	}
	if _, err := part.Write(req.Data); err != nil {
		return Comment{}, err
	}
	if req.Comment != "" {
		if err := writer.WriteField("comment", req.Comment); err != nil {
			return Comment{}, err
		}
	}
	if req.ClientRef != "" {
		if err := writer.WriteField("client_ref", req.ClientRef); err != nil {
			return Comment{}, err
		}
	}
	if req.MimeType != "" {
		if err := writer.WriteField("attachment_type", req.MimeType); err != nil {
			return Comment{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return Comment{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return Comment{}, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	if token := c.bearer(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	var resp Comment
	if err := c.do(httpReq, &resp); err != nil {
		return Comment{}, err
	}
	return resp, nil
}

// TypingStatus asks whether any other participant on the ticket is typing.
// Returns nil when nobody is.
func (c *Client) TypingStatus(ctx context.Context, ticketID, excludingUserID string) (*TypingReply, error) {
	query := url.Values{}
	query.Set("ticket", ticketID)
	if excludingUserID != "" {
		query.Set("excluding_user", excludingUserID)
	}
	var resp TypingReply
	if err := c.doJSON(ctx, http.MethodGet, "/typing-status", query, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.IsTyping {
		return nil, nil
	}
	return &resp, nil
}

// SetTyping pushes the local user's typing flag for a ticket.
func (c *Client) SetTyping(ctx context.Context, req TypingRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/typing-status", nil, req, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.do(req, respBody)
}

func (c *Client) do(req *http.Request, respBody any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	return json.Unmarshal(respData, respBody)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	endpoint := base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
