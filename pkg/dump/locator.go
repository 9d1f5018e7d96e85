// Package dump finds and downloads the BGG rank data dump, the zip that holds
// the catalog CSV. The dump page is only visible to a logged-in user.
package dump

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bgg-enricher/pkg/client"
	"github.com/Sternrassler/bgg-enricher/pkg/logging"
)

// DefaultSiteURL is the BGG site root.
const DefaultSiteURL = "https://boardgamegeek.com"

const (
	loginPath = "/login/api/v1"
	ranksPath = "/data_dumps/bg_ranks"
)

// ErrNoDumpLink is returned when the dump page holds no download link.
var ErrNoDumpLink = errors.New("no dump link on page")

// Config holds the locator configuration.
type Config struct {
	SiteURL   string
	UserAgent string
	Username  string
	Password  string

	// Wait is the fixed pause before resubmitting a transient failure.
	Wait    time.Duration
	Sleeper client.Sleeper

	// HTTPClient must carry a cookie jar. Nil builds one with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Dump describes the current rank dump.
type Dump struct {
	URL      string
	Filename string
}

// Locator logs in, finds the dump link and downloads the zip.
type Locator struct {
	cfg    Config
	site   *url.URL
	http   *http.Client
	retry  client.RetryConfig
	logger zerolog.Logger
}

// New validates cfg and creates a locator.
func New(cfg Config) (*Locator, error) {
	if cfg.SiteURL == "" {
		cfg.SiteURL = DefaultSiteURL
	}
	site, err := url.Parse(strings.TrimRight(cfg.SiteURL, "/"))
	if err != nil || (site.Scheme != "http" && site.Scheme != "https") {
		return nil, fmt.Errorf("site url must be http or https (got %q)", cfg.SiteURL)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("username and password are required to locate the dump")
	}
	if cfg.Wait < 0 {
		return nil, fmt.Errorf("backoff_wait must be >= 0 (got %s)", cfg.Wait)
	}
	if cfg.Wait == 0 {
		cfg.Wait = client.DefaultBackoffWait
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Jar: jar, Timeout: cfg.Timeout}
	}

	logger := logging.NewLogger("dump-locator")
	retry := client.DefaultRetryConfig()
	retry.Wait = cfg.Wait
	retry.Logger = logger
	if cfg.Sleeper != nil {
		retry.Sleeper = cfg.Sleeper
	}

	return &Locator{cfg: cfg, site: site, http: httpClient, retry: retry, logger: logger}, nil
}

// Fetch logs in, locates the dump and downloads it into dir. It returns the
// path of the saved zip.
func (l *Locator) Fetch(ctx context.Context, dir string) (string, error) {
	if err := l.Login(ctx); err != nil {
		return "", err
	}
	d, err := l.Locate(ctx)
	if err != nil {
		return "", err
	}
	return l.Download(ctx, d, dir)
}

// Login posts the credentials and keeps the session cookie in the jar.
func (l *Locator) Login(ctx context.Context) error {
	payload := map[string]any{
		"credentials": map[string]string{
			"username": l.cfg.Username,
			"password": l.cfg.Password,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	l.logger.Info().Str("username", l.cfg.Username).Msg("Logging in")
	err = client.Retry(ctx, l.retry, func(ctx context.Context) error {
		resp, err := l.do(ctx, http.MethodPost, l.site.JoinPath(loginPath).String(), bytes.NewReader(body))
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	l.logger.Info().Msg("Logged in")
	return nil
}

// Locate reads the dump page and returns the first link of the main content.
func (l *Locator) Locate(ctx context.Context) (Dump, error) {
	pageURL := l.site.JoinPath(ranksPath).String()
	var d Dump

	err := client.Retry(ctx, l.retry, func(ctx context.Context) error {
		resp, err := l.do(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return fmt.Errorf("parse dump page: %w", err)
		}
		d, err = l.dumpLink(doc)
		return err
	})
	if err != nil {
		return Dump{}, fmt.Errorf("locate dump: %w", err)
	}

	l.logger.Info().Str("url", d.URL).Str("filename", d.Filename).Msg("Dump located")
	return d, nil
}

func (l *Locator) dumpLink(doc *goquery.Document) (Dump, error) {
	link := doc.Find("#maincontent a").First()
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return Dump{}, ErrNoDumpLink
	}

	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return Dump{}, fmt.Errorf("dump link %q: %w", href, err)
	}
	abs := l.site.ResolveReference(ref)

	filename, _ := link.Attr("download")
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = path.Base(abs.Path)
	}
	return Dump{URL: abs.String(), Filename: filepath.Base(filename)}, nil
}

// Download saves the dump into dir and returns the file path. A partial
// download never replaces an existing file.
func (l *Locator) Download(ctx context.Context, d Dump, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump dir: %w", err)
	}
	dest := filepath.Join(dir, d.Filename)

	l.logger.Info().Str("url", d.URL).Str("path", dest).Msg("Downloading dump")
	var size int64
	err := client.Retry(ctx, l.retry, func(ctx context.Context) error {
		resp, err := l.do(ctx, http.MethodGet, d.URL, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		tmp, err := os.CreateTemp(dir, d.Filename+".*.part")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())

		size, err = io.Copy(tmp, resp.Body)
		if closeErr := tmp.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return client.TransportError(ctx, err)
		}
		return os.Rename(tmp.Name(), dest)
	})
	if err != nil {
		return "", fmt.Errorf("download dump: %w", err)
	}

	l.logger.Info().Str("path", dest).Int64("bytes", size).Msg("Dump downloaded")
	return dest, nil
}

// do sends one request and classifies failures the same way the thing client
// does. The caller closes the body of a successful response.
func (l *Locator) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if l.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", l.cfg.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	l.logger.Debug().Str("method", method).Str("url", target).Msg("Sending request")
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, client.TransportError(ctx, err)
	}
	if err := client.CheckResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}
