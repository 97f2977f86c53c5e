package loader

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher resolves a document id to the document's raw text.
type Fetcher interface {
	Fetch(ctx context.Context, documentID string) (string, error)
}

// FetchError reports that a document could not be retrieved. It is fatal
// for the run that requested the document and is never retried.
type FetchError struct {
	DocumentID string
	// StatusCode is the HTTP status of the failed response, if any.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %q: status %d: %v", e.DocumentID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %q: %v", e.DocumentID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

var (
	ErrUnsupportedSource = errors.New("unsupported document source")
	ErrNotFound          = errors.New("document not found")
)

// Scheme returns the scheme of a document id such as "s3" for
// "s3://bucket/key", or "" for a bare id.
func Scheme(documentID string) string {
	scheme, _, ok := strings.Cut(documentID, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// Router dispatches document ids to fetchers by scheme. Bare ids go to the
// fallback fetcher.
type Router struct {
	fetchers map[string]Fetcher
	fallback Fetcher
}

// NewRouter creates a router that sends bare ids to fallback, which may be nil.
func NewRouter(fallback Fetcher) *Router {
	return &Router{
		fetchers: make(map[string]Fetcher),
		fallback: fallback,
	}
}

// Handle registers f for every given scheme.
func (r *Router) Handle(f Fetcher, schemes ...string) *Router {
	for _, s := range schemes {
		r.fetchers[strings.ToLower(s)] = f
	}
	return r
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, documentID string) (string, error) {
	documentID = strings.TrimSpace(documentID)
	scheme := Scheme(documentID)

	f := r.fallback
	if scheme != "" {
		f = r.fetchers[scheme]
	}
	if f == nil {
		return "", &FetchError{DocumentID: documentID, Err: ErrUnsupportedSource}
	}
	return f.Fetch(ctx, documentID)
}

const (
	DefaultCacheEntries = 16
	DefaultCacheTTL     = time.Hour
	DefaultFetchTimeout = 2 * time.Minute
)

// CacheOptions bound a Cache. Zero values select the defaults.
type CacheOptions struct {
	MaxEntries   int
	TTL          time.Duration
	FetchTimeout time.Duration
}

// Cache memoizes fetched documents and collapses concurrent fetches of the
// same key into one. It keeps at most MaxEntries documents, evicting the
// least recently used, and forgets a document TTL after it was fetched.
type Cache struct {
	opts  CacheOptions
	group singleflight.Group
	now   func() time.Time

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key     string
	text    string
	fetched time.Time
}

func NewCache() *Cache {
	return NewCacheWithOptions(CacheOptions{})
}

func NewCacheWithOptions(opts CacheOptions) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultCacheEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Cache{
		opts:    opts,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Load returns the cached text for key or calls fn to fetch it. fn runs on
// a context detached from the caller and bounded by FetchTimeout, so a
// caller that gives up does not fail others waiting on the same key; the
// caller itself gets ctx.Err(). Failed fetches are not cached.
func (c *Cache) Load(ctx context.Context, key string, fn func(ctx context.Context) (string, error)) (string, error) {
	if text, ok := c.get(key); ok {
		return text, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if text, ok := c.get(key); ok {
			return text, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
		defer cancel()
		text, err := fn(fetchCtx)
		if err != nil {
			return "", err
		}

		c.put(key, text)
		return text, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Len returns the number of cached documents, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.fetched) > c.opts.TTL {
		c.order.Remove(el)
		delete(c.entries, key)
		return "", false
	}
	c.order.MoveToFront(el)
	return entry.text, true
}

func (c *Cache) put(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, text: text, fetched: c.now()})

	for c.order.Len() > c.opts.MaxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// CacheKey builds a cache key for a document id fetched by source.
func CacheKey(source, documentID string) string {
	return source + ":" + documentID
}
