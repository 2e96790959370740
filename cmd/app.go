package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/engine"
	"github.com/clearspan/lcaflow/internal/normalize"
	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/ocr"
	"github.com/clearspan/lcaflow/internal/output"
	"github.com/clearspan/lcaflow/internal/procedure"
	"github.com/clearspan/lcaflow/internal/registry"
	"github.com/clearspan/lcaflow/internal/routing"
	"github.com/clearspan/lcaflow/internal/sandbox"
	"github.com/clearspan/lcaflow/internal/store"
	"github.com/clearspan/lcaflow/internal/synthesis"
	"github.com/clearspan/lcaflow/internal/validation"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

// app holds the wired pipeline shared by the CLI commands.
type app struct {
	store    store.Store
	objects  objstore.Store
	hub      *engine.EventHub
	ingestor *engine.Ingestor
	engine   *engine.Engine
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initApp wires the full pipeline from config.
func initApp(ctx context.Context) (*app, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	objects, err := objstore.NewFSStore(cfg.Objects.Root)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "init object store")
	}

	llm := anthropic.NewLimitedClient(
		anthropic.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.RatePerSec,
		cfg.Anthropic.RateBurst,
	)

	local := ocr.NewPdfToText(cfg.OCR.PdfToTextPath)
	remote, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "init ocr")
	}
	runner := sandbox.NewHTTPRunner(cfg.Sandbox.URL, cfg.Sandbox.Key, cfg.Sandbox.SandboxTimeout())

	// The three tiers of a chain share the unit deadline.
	tierTimeout := cfg.Dispatch.UnitTimeout() / 3

	reg := registry.New()
	procs := []registry.Procedure{
		procedure.NewTabular(llm, runner, cfg.Anthropic.HaikuModel, tierTimeout),
		procedure.NewPDFText(local, remote, llm, cfg.Anthropic.HaikuModel, tierTimeout),
		procedure.NewPDFHybrid(local, remote, llm, cfg.Anthropic.HaikuModel, tierTimeout),
		procedure.NewPDFScanned(local, remote, llm, cfg.Anthropic.HaikuModel, tierTimeout),
		procedure.NewVision(llm, cfg.Anthropic.VisionModel, cfg.Validation.MinVisionConfidence, tierTimeout),
		procedure.NewMindmap(),
		procedure.NewGeneric(),
	}
	for _, p := range procs {
		if err := reg.Register(p); err != nil {
			st.Close()
			return nil, eris.Wrap(err, "register procedures")
		}
	}

	taxonomy, err := validation.LoadTaxonomy(cfg.Validation.TaxonomyPath)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "load taxonomy")
	}

	hub := engine.NewEventHub()
	router := routing.New(llm, reg, cfg.Anthropic.SonnetModel, cfg.Routing.ComplexityThreshold)
	dispatcher := engine.NewDispatcher(st, objects, reg, normalize.New(objects), hub,
		cfg.Dispatch.MaxConcurrency, cfg.Dispatch.UnitTimeout())
	gate := validation.NewGate(
		validation.NewRuleValidator(taxonomy, cfg.Validation),
		validation.NewModelValidator(llm, cfg.Anthropic.HaikuModel, cfg.Validation.ChunkWordBudget),
		cfg.Validation,
	)
	synth := synthesis.New(llm, cfg.Anthropic.SonnetModel, cfg.Synthesis, cfg.Dispatch.MaxConcurrency)

	eng := engine.New(st, router, dispatcher, gate, synth, output.New(objects), hub,
		map[string]string{
			"routing":    cfg.Anthropic.SonnetModel,
			"extraction": cfg.Anthropic.HaikuModel,
			"vision":     cfg.Anthropic.VisionModel,
			"validation": cfg.Anthropic.HaikuModel,
			"synthesis":  cfg.Anthropic.SonnetModel,
		})

	return &app{
		store:    st,
		objects:  objects,
		hub:      hub,
		ingestor: engine.NewIngestor(st, objects),
		engine:   eng,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
