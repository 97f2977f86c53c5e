package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/castgraph/pkg/loader"

	"codeberg.org/readeck/go-readability/v2"
)

// DefaultURLTemplate resolves bare Project Gutenberg ebook numbers to their
// plain-text edition.
const DefaultURLTemplate = "https://www.gutenberg.org/cache/epub/{id}/pg{id}.txt"

const maxDocumentBytes = 64 << 20

// WebFetcher loads documents over HTTP(S). Bare document ids are expanded
// with a URL template. For HTML pages, it uses readability to extract the
// main content.
type WebFetcher struct {
	client      *http.Client
	urlTemplate string
	cache       *loader.Cache
}

// NewWebFetcherParams configures a WebFetcher.
//
// URLTemplate must contain "{id}"; it defaults to DefaultURLTemplate.
// Client defaults to an http.Client with a one minute timeout.
type NewWebFetcherParams struct {
	URLTemplate string
	Client      *http.Client
}

// NewWebFetcher creates a new web fetcher.
func NewWebFetcher(params NewWebFetcherParams) *WebFetcher {
	tmpl := params.URLTemplate
	if tmpl == "" {
		tmpl = DefaultURLTemplate
	}
	client := params.Client
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	return &WebFetcher{
		client:      client,
		urlTemplate: tmpl,
		cache:       loader.NewCache(),
	}
}

// ResolveURL returns the URL a document id is fetched from.
func (f *WebFetcher) ResolveURL(documentID string) string {
	switch loader.Scheme(documentID) {
	case "http", "https":
		return documentID
	}
	return strings.ReplaceAll(f.urlTemplate, "{id}", url.PathEscape(documentID))
}

// Fetch implements loader.Fetcher.
func (f *WebFetcher) Fetch(ctx context.Context, documentID string) (string, error) {
	target := f.ResolveURL(documentID)
	return f.cache.Load(ctx, loader.CacheKey("web", target), func(ctx context.Context) (string, error) {
		text, status, err := f.get(ctx, target)
		if err != nil {
			return "", &loader.FetchError{DocumentID: documentID, StatusCode: status, Err: err}
		}
		return text, nil
	})
}

func (f *WebFetcher) get(ctx context.Context, target string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain, text/html;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusNotFound {
			return "", resp.StatusCode, loader.ErrNotFound
		}
		return "", resp.StatusCode, fmt.Errorf("unexpected response %s", resp.Status)
	}

	body := io.LimitReader(resp.Body, maxDocumentBytes)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		pageURL, err := url.Parse(target)
		if err != nil {
			return "", resp.StatusCode, fmt.Errorf("failed to parse url: %w", err)
		}
		article, err := readability.FromReader(body, pageURL)
		if err != nil {
			return "", resp.StatusCode, fmt.Errorf("failed to parse html: %w", err)
		}
		var builder strings.Builder
		if err := article.RenderText(&builder); err != nil {
			return "", resp.StatusCode, fmt.Errorf("failed to render article text: %w", err)
		}
		return loader.NormalizeText(builder.String()), resp.StatusCode, nil
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read body: %w", err)
	}
	return loader.NormalizeText(string(raw)), resp.StatusCode, nil
}
