// Package content serves the read-only book documents: the audio manifest,
// build info and per-chapter synced text.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"betareader/internal/metrics"
	"betareader/internal/util"
)

var (
	ErrInvalidChapter     = errors.New("invalid chapter")
	ErrSyncedTextNotFound = errors.New("no synced text for this chapter")
)

// Options configures a Library.
type Options struct {
	ManifestPath  string
	BuildInfoPath string
	SyncedTextDir string
	BookTitle     string
	CacheTTL      time.Duration
	// Now is used for the build-info fallback date.
	Now func() time.Time
}

// BuildInfo is surfaced to readers so feedback can be tied to a draft.
type BuildInfo struct {
	DraftVersion string `json:"draftVersion"`
	UpdatedAt    string `json:"updatedAt"`
	WhatChanged  []any  `json:"whatChanged"`
}

// Chapter is one playable entry of the manifest.
type Chapter struct {
	ID       string `json:"id"`
	AudioURL string `json:"audioUrl"`
}

type document struct {
	data  []byte
	found bool
}

// Library loads documents from disk, caching each for CacheTTL. Concurrent
// misses for the same file share one read.
type Library struct {
	opts  Options
	docs  *cache.Cache
	group singleflight.Group
}

// New builds a Library.
func New(opts Options) *Library {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Library{
		opts: opts,
		docs: cache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// Manifest returns the manifest document as stored. A missing or malformed
// file yields an empty chapter list under the configured title.
func (l *Library) Manifest(ctx context.Context) (json.RawMessage, error) {
	doc, err := l.load(l.opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	if doc.found && json.Valid(doc.data) {
		return json.RawMessage(doc.data), nil
	}
	if doc.found {
		util.LoggerFromContext(ctx).Warn("audio manifest is not valid JSON", "path", l.opts.ManifestPath)
	}
	return json.Marshal(map[string]any{
		"bookTitle": l.opts.BookTitle,
		"chapters":  []any{},
	})
}

// Chapters returns the manifest's chapter list, skipping malformed entries.
func (l *Library) Chapters(ctx context.Context) ([]Chapter, error) {
	raw, err := l.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Chapters []json.RawMessage `json:"chapters"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, nil
	}
	chapters := make([]Chapter, 0, len(manifest.Chapters))
	for _, item := range manifest.Chapters {
		var ch Chapter
		if err := json.Unmarshal(item, &ch); err != nil {
			continue
		}
		chapters = append(chapters, ch)
	}
	return chapters, nil
}

// AudioURL resolves a chapter's upstream audio URL.
func (l *Library) AudioURL(ctx context.Context, chapterID string) (string, bool, error) {
	chapters, err := l.Chapters(ctx)
	if err != nil {
		return "", false, err
	}
	for _, ch := range chapters {
		if ch.ID == chapterID {
			return ch.AudioURL, ch.AudioURL != "", nil
		}
	}
	return "", false, nil
}

// BuildInfo returns the build-info document, falling back to draft "v0"
// updated today.
func (l *Library) BuildInfo(ctx context.Context) BuildInfo {
	fallback := BuildInfo{
		DraftVersion: "v0",
		UpdatedAt:    l.opts.Now().UTC().Format(time.DateOnly),
		WhatChanged:  []any{},
	}
	doc, err := l.load(l.opts.BuildInfoPath)
	if err != nil || !doc.found {
		return fallback
	}
	var data map[string]any
	if err := json.Unmarshal(doc.data, &data); err != nil || data == nil {
		util.LoggerFromContext(ctx).Warn("build info is not a JSON object", "path", l.opts.BuildInfoPath)
		return fallback
	}
	out := BuildInfo{
		DraftVersion: stringOr(data["draftVersion"], fallback.DraftVersion),
		UpdatedAt:    stringOr(data["updatedAt"], fallback.UpdatedAt),
		WhatChanged:  []any{},
	}
	if changes, ok := data["whatChanged"].([]any); ok {
		out.WhatChanged = changes
	}
	return out
}

// SyncedText returns the caption document for a chapter. The chapter id must
// resolve to a file inside the synced-text directory. A malformed file yields
// an empty object.
func (l *Library) SyncedText(ctx context.Context, chapterID string) (json.RawMessage, error) {
	path, err := l.syncedTextPath(chapterID)
	if err != nil {
		return nil, err
	}
	doc, err := l.load(path)
	if err != nil {
		return nil, err
	}
	if !doc.found {
		return nil, ErrSyncedTextNotFound
	}
	if !json.Valid(doc.data) {
		util.LoggerFromContext(ctx).Warn("synced text is not valid JSON", "chapter_id", chapterID)
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(doc.data), nil
}

func (l *Library) syncedTextPath(chapterID string) (string, error) {
	if strings.TrimSpace(chapterID) == "" || strings.ContainsRune(chapterID, 0) {
		return "", ErrInvalidChapter
	}
	base, err := filepath.Abs(l.opts.SyncedTextDir)
	if err != nil {
		return "", ErrInvalidChapter
	}
	path := filepath.Join(base, chapterID+".json")
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidChapter
	}
	return path, nil
}

func (l *Library) load(path string) (document, error) {
	if cached, ok := l.docs.Get(path); ok {
		metrics.RecordCacheHit()
		return cached.(document), nil
	}
	metrics.RecordCacheMiss()
	v, err, _ := l.group.Do(path, func() (any, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			doc := document{}
			l.docs.SetDefault(path, doc)
			return doc, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		doc := document{data: data, found: true}
		l.docs.SetDefault(path, doc)
		return doc, nil
	})
	if err != nil {
		return document{}, err
	}
	return v.(document), nil
}

func stringOr(v any, fallback string) string {
	switch val := v.(type) {
	case string:
		if val != "" {
			return val
		}
	case float64:
		if val != 0 {
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
	case bool:
		if val {
			return "true"
		}
	}
	return fallback
}
