// Package loader reads documents of supported types from a directory.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/medbot/internal/models"
	"github.com/xhad/medbot/pkg/processor"
	"github.com/xhad/medbot/pkg/scraper"
)

// parseFunc turns one opened file into one or more documents.
type parseFunc func(ctx context.Context, f *os.File, size int64) ([]schema.Document, error)

var parsers = map[string]parseFunc{
	".pdf":  parsePDF,
	".txt":  parseText,
	".md":   parseText,
	".html": parseHTML,
	".htm":  parseHTML,
}

// Supported reports whether ext (with leading dot) has a parser.
func Supported(ext string) bool {
	_, ok := parsers[strings.ToLower(ext)]
	return ok
}

type LoaderConfig struct {
	Extensions []string
}

// DirectoryLoader loads every file in a directory whose extension is
// enabled. Subdirectories are not descended into.
type DirectoryLoader struct {
	config LoaderConfig
	exts   map[string]parseFunc
}

func NewWithConfig(config LoaderConfig) (*DirectoryLoader, error) {
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".pdf"}
	}

	exts := make(map[string]parseFunc, len(config.Extensions))
	for _, ext := range config.Extensions {
		ext = strings.ToLower(ext)
		parse, ok := parsers[ext]
		if !ok {
			return nil, fmt.Errorf("unsupported document extension %q", ext)
		}
		exts[ext] = parse
	}

	return &DirectoryLoader{config: config, exts: exts}, nil
}

// Load parses all matching files. The first unreadable or unparseable
// file aborts the load.
func (l *DirectoryLoader) Load(ctx context.Context, dir string) ([]models.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read document directory %s: %w", dir, err)
	}

	var docs []models.Document
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		parse, ok := l.exts[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		loaded, err := loadFile(ctx, path, parse)
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}

	return docs, nil
}

func loadFile(ctx context.Context, path string, parse parseFunc) ([]models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	parsed, err := parse(ctx, f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	docs := processor.FromSchema(parsed)
	for i := range docs {
		docs[i].Metadata[models.SourceKey] = path
	}
	return docs, nil
}

func parsePDF(ctx context.Context, f *os.File, size int64) ([]schema.Document, error) {
	return documentloaders.NewPDF(f, size).Load(ctx)
}

func parseText(ctx context.Context, f *os.File, _ int64) ([]schema.Document, error) {
	return documentloaders.NewText(f).Load(ctx)
}

func parseHTML(_ context.Context, f *os.File, _ int64) ([]schema.Document, error) {
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}
	return []schema.Document{{
		PageContent: scraper.ExtractMainContent(doc),
		Metadata: map[string]any{
			"title": strings.TrimSpace(doc.Find("title").Text()),
		},
	}}, nil
}
