package convo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentflow/convruntime/internal/protocol"
)

// Fetcher performs the external GET a ContentPart needs when its data is a
// URI rather than inline content. http.DefaultClient.Do satisfies this
// interface; tests supply a fake.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// ContentPart is an immutable value object, never a Helper: it is created
// fresh from a dispatched contentPart event and fires onContentPart, but it
// is never paused, never deleted, and never itself dispatches anything.
type ContentPart struct {
	ID           string
	MimeType     string
	Data         protocol.ContentData
	Citations    []protocol.Citation
	IsTranscript bool
	IsIncomplete bool
	Name         string
	CreatedTime  string
	UpdatedTime  string

	fetcher Fetcher
}

// NewContentPart builds a ContentPart from its wire event.
func NewContentPart(ev protocol.ContentPartEvent, fetcher Fetcher) *ContentPart {
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	return &ContentPart{
		ID:           ev.ContentPartID,
		MimeType:     ev.MimeType,
		Data:         ev.Data,
		Citations:    ev.Citations,
		IsTranscript: ev.IsTranscript,
		IsIncomplete: ev.IsIncomplete,
		Name:         ev.Name,
		CreatedTime:  ev.CreatedTime,
		UpdatedTime:  ev.UpdatedTime,
		fetcher:      fetcher,
	}
}

// GetData returns the part's content. Inline content is returned directly;
// external content is fetched from Data.URI with no caching — every call
// re-fetches.
func (c *ContentPart) GetData(ctx context.Context) (io.ReadCloser, error) {
	if c.Data.Inline != nil {
		return io.NopCloser(strings.NewReader(*c.Data.Inline)), nil
	}
	if c.Data.URI == nil {
		return nil, protocol.Validation("content part has neither inline data nor a uri")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *c.Data.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("build content part fetch request: %w", err)
	}
	resp, err := c.fetcher.Do(req)
	if err != nil {
		return nil, protocol.Network("content part fetch failed", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, protocol.Network(fmt.Sprintf("content part fetch returned status %d", resp.StatusCode), nil)
	}
	return resp.Body, nil
}
