package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/bgg-enricher/internal/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockBGG, sleeper Sleeper) *Client {
	t.Helper()

	cfg := DefaultConfig("TestApp/1.0.0 (test@example.com)")
	cfg.BaseURL = mock.URL()
	cfg.HTTPClient = mock.Client()
	cfg.Sleeper = sleeper

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("TestApp/1.0.0"),
			expectError: false,
		},
		{
			name: "empty user agent",
			config: Config{
				BaseURL: DefaultBaseURL,
			},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "unsupported scheme",
			config: Config{
				BaseURL:   "ftp://boardgamegeek.com/xmlapi2",
				UserAgent: "TestApp/1.0.0",
			},
			expectError: true,
			errorMsg:    `base url must be http or https (got "ftp://boardgamegeek.com/xmlapi2")`,
		},
		{
			name: "negative backoff",
			config: Config{
				BaseURL:     DefaultBaseURL,
				UserAgent:   "TestApp/1.0.0",
				BackoffWait: -time.Second,
			},
			expectError: true,
			errorMsg:    "backoff_wait must be >= 0 (got -1s)",
		},
		{
			name: "negative request interval",
			config: Config{
				BaseURL:         DefaultBaseURL,
				UserAgent:       "TestApp/1.0.0",
				RequestInterval: -time.Second,
			},
			expectError: true,
			errorMsg:    "request_interval must be >= 0 (got -1s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0.0")

	if cfg.UserAgent != "TestApp/1.0.0" {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, "TestApp/1.0.0")
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.BackoffWait != 10*time.Second {
		t.Errorf("BackoffWait = %v, want 10s", cfg.BackoffWait)
	}
	if cfg.RequestInterval != 0 {
		t.Errorf("RequestInterval = %v, want 0", cfg.RequestInterval)
	}
}

func TestThingURL(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0.0")
	cfg.BaseURL = "https://boardgamegeek.com/xmlapi2/"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := c.ThingURL([]string{"13", "822", "174430"})
	want := "https://boardgamegeek.com/xmlapi2/thing?id=13,822,174430&stats=1"
	if got != want {
		t.Errorf("ThingURL() = %q, want %q", got, want)
	}
}

func TestFetchItems_Success(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()
	mock.SetResponse("/thing", testutil.NewItemsResponse(testutil.ItemXML("13", "boardgame", "CATAN")))

	c := newTestClient(t, mock, &countingSleeper{})
	body, err := c.FetchItems(context.Background(), []string{"13"})
	if err != nil {
		t.Fatalf("FetchItems() error = %v", err)
	}
	if !strings.Contains(string(body), `id="13"`) {
		t.Errorf("body = %q, want item 13", body)
	}

	uris := mock.GetRequestURIs()
	if len(uris) != 1 || uris[0] != "/thing?id=13&stats=1" {
		t.Errorf("request URIs = %v, want [/thing?id=13&stats=1]", uris)
	}
}

func TestFetchItems_Headers(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()
	mock.SetResponse("/thing", testutil.NewItemsResponse())

	cfg := DefaultConfig("TestApp/1.0.0 (test@example.com)")
	cfg.BaseURL = mock.URL()
	cfg.HTTPClient = mock.Client()
	cfg.APIToken = "secret-token"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.FetchItems(context.Background(), []string{"1", "2"}); err != nil {
		t.Fatalf("FetchItems() error = %v", err)
	}

	h := mock.LastRequestHeader
	if got := h.Get("User-Agent"); got != cfg.UserAgent {
		t.Errorf("User-Agent = %q, want %q", got, cfg.UserAgent)
	}
	if got := h.Get("Authorization"); got != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer secret-token")
	}
}

func TestFetchItems_RetrySequences(t *testing.T) {
	tests := []struct {
		name         string
		queue        []testutil.MockResponse
		wantWaits    int
		wantRequests int
		wantFatal    bool
	}{
		{
			name:         "two rate limits then success",
			queue:        []testutil.MockResponse{testutil.NewRateLimitResponse(), testutil.NewRateLimitResponse()},
			wantWaits:    2,
			wantRequests: 3,
		},
		{
			name:         "bad gateway then success",
			queue:        []testutil.MockResponse{testutil.NewServerErrorResponse(502)},
			wantWaits:    1,
			wantRequests: 2,
		},
		{
			name:         "queued then success",
			queue:        []testutil.MockResponse{testutil.NewQueuedResponse()},
			wantWaits:    1,
			wantRequests: 2,
		},
		{
			name:         "not found is fatal",
			queue:        []testutil.MockResponse{testutil.NewNotFoundResponse()},
			wantWaits:    0,
			wantRequests: 1,
			wantFatal:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockBGG()
			defer mock.Close()
			mock.Enqueue("/thing", tt.queue...)
			mock.SetResponse("/thing", testutil.NewItemsResponse(testutil.ItemXML("13", "boardgame", "CATAN")))

			sleeper := &countingSleeper{}
			c := newTestClient(t, mock, sleeper)

			body, err := c.FetchItems(context.Background(), []string{"13"})
			if tt.wantFatal {
				if !errors.Is(err, ErrFatal) {
					t.Fatalf("FetchItems() error = %v, want ErrFatal", err)
				}
				var fe *FetchError
				if !errors.As(err, &fe) || fe.StatusCode != 404 {
					t.Errorf("FetchError = %+v, want status 404", fe)
				}
			} else {
				if err != nil {
					t.Fatalf("FetchItems() error = %v", err)
				}
				if !strings.Contains(string(body), "CATAN") {
					t.Errorf("body = %q, want the success payload", body)
				}
			}

			if len(sleeper.waits) != tt.wantWaits {
				t.Errorf("waits = %d, want %d", len(sleeper.waits), tt.wantWaits)
			}
			if got := mock.GetRequestCount(); got != tt.wantRequests {
				t.Errorf("requests = %d, want %d", got, tt.wantRequests)
			}
		})
	}
}

func TestFetchItems_NetworkErrorIsRetried(t *testing.T) {
	mock := testutil.NewMockBGG()
	mock.SetResponse("/thing", testutil.NewItemsResponse())
	url := mock.URL()
	mock.Close() // nothing listens any more

	cfg := DefaultConfig("TestApp/1.0.0")
	cfg.BaseURL = url
	cfg.Timeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	waits := 0
	cfg.Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
		waits++
		if waits == 2 {
			cancel()
		}
		return ctx.Err()
	})

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.FetchItems(ctx, []string{"13"})
	if waits != 2 {
		t.Errorf("waits = %d, want 2 (network errors retry until canceled)", waits)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Class != ErrorClassCanceled {
		t.Errorf("FetchItems() error = %v, want canceled FetchError", err)
	}
}

func TestFetchItems_NoIDs(t *testing.T) {
	c, err := New(DefaultConfig("TestApp/1.0.0"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.FetchItems(context.Background(), nil); err == nil {
		t.Error("FetchItems(nil) error = nil, want error")
	}
}

// fakeBackoff is an in-memory BackoffStore.
type fakeBackoff struct {
	mu        sync.Mutex
	remaining time.Duration
	recorded  []int
}

func (f *fakeBackoff) Remaining(context.Context) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.remaining
	f.remaining = 0
	return r, nil
}

func (f *fakeBackoff) Record(_ context.Context, status int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, status)
	return nil
}

func TestFetchItems_SharedBackoff(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()
	mock.Enqueue("/thing", testutil.NewRateLimitResponse())
	mock.SetResponse("/thing", testutil.NewItemsResponse())

	store := &fakeBackoff{remaining: 3 * time.Second}
	sleeper := &countingSleeper{}

	cfg := DefaultConfig("TestApp/1.0.0")
	cfg.BaseURL = mock.URL()
	cfg.HTTPClient = mock.Client()
	cfg.Sleeper = sleeper
	cfg.Backoff = store

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.FetchItems(context.Background(), []string{"13"}); err != nil {
		t.Fatalf("FetchItems() error = %v", err)
	}

	// One wait for the pre-existing shared window, one for the 429.
	if len(sleeper.waits) != 2 || sleeper.waits[0] != 3*time.Second {
		t.Errorf("waits = %v, want [3s 10s]", sleeper.waits)
	}
	if len(store.recorded) != 1 || store.recorded[0] != 429 {
		t.Errorf("recorded = %v, want [429]", store.recorded)
	}
}

func TestFetchItems_StateObserver(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()
	mock.Enqueue("/thing", testutil.NewServerErrorResponse(503))
	mock.SetResponse("/thing", testutil.NewItemsResponse())

	var states []State
	cfg := DefaultConfig("TestApp/1.0.0")
	cfg.BaseURL = mock.URL()
	cfg.HTTPClient = mock.Client()
	cfg.Sleeper = &countingSleeper{}
	cfg.OnState = func(s State) { states = append(states, s) }

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.FetchItems(context.Background(), []string{"13"}); err != nil {
		t.Fatalf("FetchItems() error = %v", err)
	}

	if len(states) == 0 || states[len(states)-1] != StateSuccess {
		t.Errorf("states = %v, want to end in success", states)
	}
}
