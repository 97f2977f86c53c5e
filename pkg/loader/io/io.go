package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/OFFIS-RIT/castgraph/pkg/loader"
)

const maxFileBytes = 64 << 20

// FileFetcher loads documents from the local filesystem. Ids have the form
// "file://relative/path.txt" and are resolved inside the base directory;
// paths escaping it are rejected.
type FileFetcher struct {
	baseDir string
	cache   *loader.Cache
}

// NewFileFetcher creates a filesystem fetcher rooted at baseDir.
func NewFileFetcher(baseDir string) *FileFetcher {
	return &FileFetcher{
		baseDir: baseDir,
		cache:   loader.NewCache(),
	}
}

// Fetch implements loader.Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, documentID string) (string, error) {
	name, ok := strings.CutPrefix(documentID, "file://")
	if !ok {
		return "", &loader.FetchError{DocumentID: documentID, Err: loader.ErrUnsupportedSource}
	}
	name = strings.TrimPrefix(name, "/")

	return f.cache.Load(ctx, loader.CacheKey("file", name), func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := f.read(name)
		if err != nil {
			return "", &loader.FetchError{DocumentID: documentID, Err: err}
		}
		return text, nil
	})
}

func (f *FileFetcher) read(name string) (string, error) {
	if f.baseDir == "" {
		return "", errors.New("no document directory configured")
	}
	root, err := os.OpenRoot(f.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to open document directory: %w", err)
	}
	defer root.Close()

	file, err := root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", loader.ErrNotFound
		}
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxFileBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return loader.NormalizeText(string(raw)), nil
}
