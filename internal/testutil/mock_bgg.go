// Package testutil provides testing utilities for the BGG enricher.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock BGG response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockBGG is a configurable mock BGG server for testing.
//
// Responses queued with Enqueue for a path are served first, one per request,
// in order. Once the queue is empty the path's fixed response (SetResponse)
// or handler (SetHandler) answers. Unconfigured paths return 404.
type MockBGG struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	queues   map[string][]MockResponse

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	RequestURIs       []string
}

// NewMockBGG creates a new mock BGG server.
func NewMockBGG() *MockBGG {
	mock := &MockBGG{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		queues:   make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.RequestURIs = append(mock.RequestURIs, r.URL.RequestURI())

		queued, hasQueued := mock.dequeue(r.URL.Path)
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		switch {
		case hasQueued:
			writeResponse(w, queued)
		case exists:
			handler(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// dequeue pops the next queued response. Caller holds mu.
func (m *MockBGG) dequeue(path string) (MockResponse, bool) {
	q := m.queues[path]
	if len(q) == 0 {
		return MockResponse{}, false
	}
	m.queues[path] = q[1:]
	return q[0], true
}

// URL returns the mock server URL.
func (m *MockBGG) URL() string {
	return m.server.URL
}

// Client returns an HTTP client that talks to the mock server.
func (m *MockBGG) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockBGG) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and queued responses.
func (m *MockBGG) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.RequestURIs = nil
	m.queues = make(map[string][]MockResponse)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockBGG) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockBGG) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// Enqueue appends responses served one per request before the fixed response.
func (m *MockBGG) Enqueue(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[path] = append(m.queues[path], resps...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockBGG) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequestURIs returns the request URIs seen so far, in order.
func (m *MockBGG) GetRequestURIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.RequestURIs...)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewItemsResponse creates a 200 OK response wrapping item elements in <items>.
func NewItemsResponse(items ...string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: `<?xml version="1.0" encoding="utf-8"?>` +
			`<items termsofuse="https://boardgamegeek.com/xmlapi/termsofuse">` +
			strings.Join(items, "") +
			`</items>`,
		Headers: map[string]string{"Content-Type": "text/xml; charset=utf-8"},
	}
}

// ItemXML renders a minimal well-formed thing item.
func ItemXML(id, itemType, name string) string {
	return fmt.Sprintf(`<item type=%q id=%q>`+
		`<name type="primary" sortindex="1" value=%q/>`+
		`<description>%s description</description>`+
		`<minplayers value="2"/><maxplayers value="4"/>`+
		`<playingtime value="60"/><minplaytime value="30"/><maxplaytime value="60"/>`+
		`<minage value="10"/>`+
		`<statistics page="1"><ratings><averageweight value="2.5"/></ratings></statistics>`+
		`</item>`, itemType, id, name, name)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `<error><message>Rate limit exceeded.</message></error>`,
	}
}

// NewServerErrorResponse creates a 5xx response.
func NewServerErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `<html><body>Bad Gateway</body></html>`,
	}
}

// NewQueuedResponse creates a 202 Accepted response.
func NewQueuedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusAccepted,
		Body:       `<message>Your request for this collection has been accepted and will be processed.</message>`,
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `<error><message>Not Found</message></error>`,
	}
}
