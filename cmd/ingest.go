package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/medbot/internal/models"
	"github.com/xhad/medbot/pkg/loader"
	"github.com/xhad/medbot/pkg/pipeline"
	"github.com/xhad/medbot/pkg/processor"
	"github.com/xhad/medbot/pkg/scraper"
)

var (
	ingestDir string
	ingestURL string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load documents into the vector index",
	Long: `Loads every supported file in a directory (or crawls a documentation site
with --url), splits it into chunks, embeds them and writes them to the index.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory of documents (default from config)")
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "documentation site to crawl instead of a directory")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := newLogger(false)

	l, err := loader.NewWithConfig(loader.LoaderConfig{Extensions: cfg.Loader.Extensions})
	if err != nil {
		return fmt.Errorf("failed to initialize loader: %w", err)
	}
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
		Separators:   cfg.Processor.Separators,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	emb, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	spec, err := indexSpec(cfg)
	if err != nil {
		return err
	}
	index, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	bars := map[string]*progressbar.ProgressBar{}
	labels := map[string]string{
		pipeline.StageEmbed:  "🧠 Embedding chunks...",
		pipeline.StageUpsert: "💾 Storing in vector index...",
	}
	ingestor, err := pipeline.NewIngestor(l, p, emb, index, pipeline.IngestOptions{
		Spec:            spec,
		EmbedBatchSize:  cfg.Embedder.BatchSize,
		UpsertBatchSize: cfg.Index.BatchSize,
		RateLimit:       cfg.Embedder.RateLimit,
		Dedupe:          cfg.Index.DedupeEnabled(),
		EmbedTimeout:    cfg.Timeouts.Embed,
		OnProgress: func(stage string, done, total int) {
			bar, ok := bars[stage]
			if !ok {
				bar = getProgressBar(total, labels[stage])
				bars[stage] = bar
			}
			_ = bar.Set(done)
			if done == total {
				_ = bar.Finish()
				fmt.Println()
			}
		},
	}, logger)
	if err != nil {
		return err
	}

	var stats pipeline.IngestStats
	if ingestURL != "" {
		docs, err := scrapeSite(cmd, ingestURL)
		if err != nil {
			return err
		}
		stats, err = ingestor.RunDocuments(ctx, docs)
		if err != nil {
			return err
		}
	} else {
		dir := ingestDir
		if dir == "" {
			dir = cfg.Loader.Dir
		}
		color.Blue("\nIngesting documents from %s into %q (%s)\n", dir, spec.Name, cfg.Index.Backend)
		stats, err = ingestor.Run(ctx, dir)
		if err != nil {
			return err
		}
	}

	color.Green("\n✓ Ingested %d documents as %d chunks in %s\n",
		stats.Documents, stats.Chunks, stats.Duration.Round(time.Millisecond))
	if stats.Unsourced > 0 {
		color.Yellow("! %d documents had no source metadata\n", stats.Unsourced)
	}
	return nil
}

func scrapeSite(cmd *cobra.Command, startURL string) ([]models.Document, error) {
	color.Blue("\nCrawling %s\n", startURL)

	var pages int32
	bar := getProgressBar(-1, "📄 Scraping documentation...")
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:           startURL,
		MaxDepth:          cfg.Scraper.MaxDepth,
		RateLimit:         cfg.Scraper.RateLimit,
		IgnorePatterns:    cfg.Scraper.IgnorePatterns,
		AllowedExtensions: cfg.Scraper.AllowedExtensions,
		Logger:            newLogger(false),
		OnProgress: func(string) {
			_ = bar.Set(int(atomic.AddInt32(&pages, 1)))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	docs, err := s.Scrape(cmd.Context(), startURL)
	_ = bar.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to scrape documents: %w", err)
	}
	color.Green("\n✓ Scraped %d pages\n", len(docs))
	return docs, nil
}
