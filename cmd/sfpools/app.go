package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fwextensions/sf-pools/internal/dataset"
	"github.com/fwextensions/sf-pools/internal/discovery"
	"github.com/fwextensions/sf-pools/internal/extractor"
	"github.com/fwextensions/sf-pools/internal/fetcher"
	"github.com/fwextensions/sf-pools/internal/metrics"
	"github.com/fwextensions/sf-pools/internal/notify"
	"github.com/fwextensions/sf-pools/internal/pipeline"
	"github.com/fwextensions/sf-pools/internal/reconcile"
	"github.com/fwextensions/sf-pools/internal/registry"
	"github.com/fwextensions/sf-pools/internal/store"
)

// app holds the wired pipeline and the resources that need closing
type app struct {
	pipeline *pipeline.Pipeline
	registry *registry.Registry
	store    *store.Store
	dataset  *dataset.Store
}

func (a *app) Close() {
	a.store.Close()
}

// newApp wires every pipeline collaborator from cfg. m may be nil.
func newApp(ctx context.Context, logger *slog.Logger, m *metrics.Metrics) (*app, error) {
	reg, err := registry.Default(registry.WithThreshold(cfg.Similarity), registry.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	st, err := getStore()
	if err != nil {
		return nil, err
	}

	client := fetcher.NewClient(cfg.RequestDelay, cfg.HTTPTimeout)
	ds := dataset.New(cfg.DataDir)

	var ext extractor.Extractor
	if cfg.AnthropicAPIKey != "" {
		a, err := extractor.NewAnthropic(cfg.AnthropicAPIKey, cfg.ExtractTimeout, extractor.WithModel(cfg.AnthropicModel))
		if err != nil {
			st.Close()
			return nil, err
		}
		ext = a
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, only cached extractions are available")
	}

	var pub dataset.Publisher
	if cfg.S3Bucket != "" {
		p, err := dataset.NewS3Publisher(ctx, dataset.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
		pub = p
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.PushoverToken != "" || cfg.PushoverUser != "" {
		p, err := notify.NewPushover(cfg.PushoverToken, cfg.PushoverUser)
		if err != nil {
			st.Close()
			return nil, err
		}
		notifier = p
	}

	changelogBase := ""
	if cfg.PublicURL != "" {
		changelogBase = strings.TrimRight(cfg.PublicURL, "/") + "/" + dataset.ChangelogDir
	}

	p := pipeline.New(pipeline.Deps{
		Registry:   reg,
		Discoverer: discovery.NewHTML(client, reg, cfg.ListingURL, logger),
		Downloader: fetcher.NewDownloader(client, cfg.DocumentsDir()),
		Extractor:  ext,
		Store:      st,
		Reconciler: reconcile.New(reg, reg.Metadata(), reconcile.WithLogger(logger)),
		Dataset:    ds,
		Publisher:  pub,
		Notifier:   notifier,
		Metrics:    m,
		Logger:     logger,
	}, pipeline.Options{
		SourcesPath:       cfg.SourcesPath(),
		ManifestPath:      cfg.ManifestPath(),
		DocumentsDir:      cfg.DocumentsDir(),
		ForceExtract:      cfg.ForceExtract,
		FailOnLargeChange: cfg.FailOnLargeChange,
		Thresholds:        cfg.Thresholds,
		ChangelogBaseURL:  changelogBase,
	})

	return &app{pipeline: p, registry: reg, store: st, dataset: ds}, nil
}
