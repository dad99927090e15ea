package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bastiangx/hound/pkg/suggest"
	"github.com/charmbracelet/log"
)

// MaxBodyBytes caps how much of a dataset response is read.
const MaxBodyBytes = 16 << 20

// HTTPFetcher GETs a source URL, relative to BaseURL when the source is a
// path, and hands the body to Transform.
type HTTPFetcher struct {
	BaseURL   string
	Client    *http.Client
	Transform TransformFunc
	UserAgent string
	Header    http.Header
}

// NewHTTPFetcher returns a fetcher with a client bounded by timeout.
func NewHTTPFetcher(baseURL string, transform TransformFunc, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL:   baseURL,
		Client:    &http.Client{Timeout: timeout},
		Transform: transform,
		UserAgent: "hound",
	}
}

var _ suggest.Fetcher = (*HTTPFetcher)(nil)

// Fetch implements suggest.Fetcher. Errors are always *suggest.RefreshError.
func (f *HTTPFetcher) Fetch(ctx context.Context, src suggest.Source) ([]suggest.Item, error) {
	target, err := f.resolve(src.URL)
	if err != nil {
		return nil, suggest.NewFetchError(src.String(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, suggest.NewFetchError(src.String(), err)
	}
	for k, vs := range f.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, suggest.NewFetchError(src.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, suggest.NewFetchError(src.String(), fmt.Errorf("reading body: %w", err))
	}
	log.Debugf("GET %s -> %d (%d bytes, %v)", target, resp.StatusCode, len(body), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, suggest.NewResponseError(src.String(), resp.StatusCode, responseReason(resp, body))
	}

	transform := f.Transform
	if transform == nil {
		transform = Strings
	}
	items, err := transform(body)
	if err != nil {
		return nil, suggest.NewParseError(src.String(), err)
	}
	return items, nil
}

func (f *HTTPFetcher) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() || f.BaseURL == "" {
		return ref.String(), nil
	}
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// responseReason prefers a server supplied "message" over the bare status text.
func responseReason(resp *http.Response, body []byte) string {
	reason := resp.Status
	msg := strings.TrimSpace(string(body))
	if strings.HasPrefix(msg, "{") {
		if m := jsonMessage(body); m != "" {
			return reason + ": " + m
		}
	}
	return reason
}
