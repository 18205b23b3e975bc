// Package restapi defines the ConversationRestClient boundary the service
// façade binds to for conversation CRUD and attachment upload — the core
// runtime never reaches into REST directly, per spec.md §6.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentflow/convruntime/internal/backoff"
)

// ConversationRecord is a historical conversation snapshot as returned by
// the REST API, sufficient for internal/replay to reconstruct a Helper
// tree.
type ConversationRecord struct {
	ConversationID string           `json:"conversationId"`
	AgentID        string           `json:"agentId"`
	FolderID       string           `json:"folderId,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Exchanges      []ExchangeRecord `json:"exchanges,omitempty"`
	Ended          bool             `json:"ended"`
}

// ExchangeRecord is one historical exchange within a ConversationRecord.
type ExchangeRecord struct {
	ExchangeID string          `json:"exchangeId"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Messages   []MessageRecord `json:"messages,omitempty"`
	Ended      bool            `json:"ended"`
}

// MessageRecord is one historical message within an ExchangeRecord.
type MessageRecord struct {
	MessageID    string              `json:"messageId"`
	Role         string              `json:"role"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
	ContentParts []ContentPartRecord `json:"contentParts,omitempty"`
	ToolCalls    []ToolCallRecord    `json:"toolCalls,omitempty"`
	Ended        bool                `json:"ended"`
}

// ContentPartRecord is one historical content part within a MessageRecord.
type ContentPartRecord struct {
	ContentPartID string `json:"contentPartId"`
	MimeType      string `json:"mimeType"`
	Inline        string `json:"inline,omitempty"`
	URI           string `json:"uri,omitempty"`
}

// ToolCallRecord is one historical tool call within a MessageRecord.
type ToolCallRecord struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Ended      bool            `json:"ended"`
}

// CreateOptions configures ConversationRestClient.Create.
type CreateOptions struct {
	Metadata map[string]any
}

// ListOptions configures ConversationRestClient.GetAll.
type ListOptions struct {
	AgentID string
	Limit   int
	Offset  int
}

// AttachmentResult is the outcome of uploading a file attachment.
type AttachmentResult struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// ConversationRestClient is the boundary interface the façade consumes.
// Core dispatch logic never depends on this directly.
type ConversationRestClient interface {
	Create(ctx context.Context, agentID, folderID string, opts CreateOptions) (*ConversationRecord, error)
	GetByID(ctx context.Context, id string) (*ConversationRecord, error)
	GetAll(ctx context.Context, opts ListOptions) ([]ConversationRecord, error)
	UpdateByID(ctx context.Context, id string, patch map[string]any) (*ConversationRecord, error)
	DeleteByID(ctx context.Context, id string) error
	UploadAttachment(ctx context.Context, conversationID, filename string, content io.Reader) (*AttachmentResult, error)
}

// Client is an http.Client-backed ConversationRestClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authHeader func() string
}

// NewClient builds a Client against baseURL. authHeader, if non-nil, is
// called for every request to produce an Authorization header value (e.g.
// "Bearer <token>" from a tokenauth.TokenProvider).
func NewClient(baseURL string, timeout time.Duration, authHeader func() string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		authHeader: authHeader,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authHeader != nil {
		if h := c.authHeader(); h != "" {
			req.Header.Set("Authorization", h)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("restapi: %s %s: %s (%s)", method, path, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Create creates a new conversation for agentID, optionally in folderID.
func (c *Client) Create(ctx context.Context, agentID, folderID string, opts CreateOptions) (*ConversationRecord, error) {
	payload := map[string]any{"agentId": agentID}
	if folderID != "" {
		payload["folderId"] = folderID
	}
	if opts.Metadata != nil {
		payload["metadata"] = opts.Metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out ConversationRecord
	if err := c.do(ctx, http.MethodPost, "/conversations", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// readRetryPolicy and readRetryAttempts bound the read-only GET endpoints to
// three attempts with short exponential backoff: these calls are
// idempotent, unlike Create/UpdateByID/DeleteByID, which are left to fail
// fast on the first transient error rather than risk a duplicate side
// effect. This reuses the same ComputeBackoff/SleepWithBackoff math the
// transport's reconnect loop runs on, via backoff.RetryWithBackoff's
// bounded-attempt wrapper.
var readRetryPolicy = backoff.BackoffPolicy{
	InitialMs: 100,
	MaxMs:     2000,
	Factor:    2,
	Jitter:    0.2,
}

const readRetryAttempts = 3

// GetByID fetches one conversation by id, retrying transient failures.
func (c *Client) GetByID(ctx context.Context, id string) (*ConversationRecord, error) {
	result, err := backoff.RetryWithBackoff(ctx, readRetryPolicy, readRetryAttempts, func(attempt int) (*ConversationRecord, error) {
		var out ConversationRecord
		if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	return result.Value, err
}

// GetAll lists conversations matching opts, retrying transient failures.
func (c *Client) GetAll(ctx context.Context, opts ListOptions) ([]ConversationRecord, error) {
	q := url.Values{}
	if opts.AgentID != "" {
		q.Set("agentId", opts.AgentID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/conversations"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	result, err := backoff.RetryWithBackoff(ctx, readRetryPolicy, readRetryAttempts, func(attempt int) ([]ConversationRecord, error) {
		var out []ConversationRecord
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	return result.Value, err
}

// UpdateByID applies a partial patch to a conversation.
func (c *Client) UpdateByID(ctx context.Context, id string, patch map[string]any) (*ConversationRecord, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	var out ConversationRecord
	if err := c.do(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteByID deletes a conversation.
func (c *Client) DeleteByID(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}

// UploadAttachment uploads content as a named file attached to
// conversationID, returning its resolved URI/name/mimeType.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, filename string, content io.Reader) (*AttachmentResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/conversations/"+url.PathEscape(conversationID)+"/attachments", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.authHeader != nil {
		if h := c.authHeader(); h != "" {
			req.Header.Set("Authorization", h)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("restapi: upload attachment: %s (%s)", resp.Status, strings.TrimSpace(string(raw)))
	}

	var out AttachmentResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("restapi: decode attachment response: %w", err)
	}
	return &out, nil
}
