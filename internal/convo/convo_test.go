package convo

import (
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentflow/convruntime/internal/observability"
	"github.com/agentflow/convruntime/internal/protocol"
)

// testContext builds a minimal Context suitable for exercising Helper
// lifecycle in isolation, with metrics recorded into a fresh private
// registry and sinks wired to the given fakes so tests can assert on
// fallthrough routing.
func testContext(sinks *Sinks) *Context {
	return &Context{
		IDGen:          func() string { return "generated-id" },
		Logger:         observability.NewLogger(observability.LogConfig{}),
		Metrics:        observability.NewMetrics(prometheus.NewRegistry()),
		Sinks:          sinks,
		Connected:      func() bool { return true },
		ConversationID: "conv-1",
	}
}

type capturedError struct {
	kind string
	conv string
	id   string
}

type capturedEnvelope struct {
	reason string
	raw    any
}

// capturingSinks records every sink invocation for assertions.
type capturingSinks struct {
	anyErrorStarts       []capturedError
	anyErrorEnds         []capturedError
	unhandledErrorStarts []capturedError
	unhandledErrorEnds   []capturedError
	unhandledEnvelopes   []capturedEnvelope
}

func (c *capturingSinks) asSinks() *Sinks {
	return &Sinks{
		AnyErrorStart: func(kind, conv, id string, _ protocol.ErrorStart) {
			c.anyErrorStarts = append(c.anyErrorStarts, capturedError{kind, conv, id})
		},
		AnyErrorEnd: func(kind, conv, id string, _ protocol.ErrorEnd) {
			c.anyErrorEnds = append(c.anyErrorEnds, capturedError{kind, conv, id})
		},
		UnhandledErrorStart: func(kind, conv, id string, _ protocol.ErrorStart) {
			c.unhandledErrorStarts = append(c.unhandledErrorStarts, capturedError{kind, conv, id})
		},
		UnhandledErrorEnd: func(kind, conv, id string, _ protocol.ErrorEnd) {
			c.unhandledErrorEnds = append(c.unhandledErrorEnds, capturedError{kind, conv, id})
		},
		UnhandledEnvelope: func(reason string, raw any) {
			c.unhandledEnvelopes = append(c.unhandledEnvelopes, capturedEnvelope{reason, raw})
		},
	}
}

// fakeFetcher implements Fetcher for ContentPart.GetData tests without
// touching the network.
type fakeFetcher struct {
	do func(req *http.Request) (*http.Response, error)
}

func (f *fakeFetcher) Do(req *http.Request) (*http.Response, error) {
	return f.do(req)
}

func newBodyResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
