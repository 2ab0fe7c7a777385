package main

import (
	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/extractor"
	"github.com/nijaru/catchup/handlers"
	"github.com/nijaru/catchup/pipeline"
	"github.com/nijaru/catchup/repository"
	"github.com/nijaru/catchup/repository/sqlite"
	"github.com/nijaru/catchup/resolver"
	"github.com/nijaru/catchup/retry"
	"github.com/nijaru/catchup/storage"
	"github.com/nijaru/catchup/summary"
	"github.com/nijaru/catchup/transcription"
	"github.com/nijaru/catchup/validation"
	"github.com/samber/do/v2"
)

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, retry.Policy{
		InitialInterval: cfg.Pipeline.BackoffInitial,
		MaxInterval:     cfg.Pipeline.BackoffMax,
		Multiplier:      2,
	})

	resolver.RegisterDI(injector)
	extractor.RegisterDI(injector)
	storage.RegisterDI(injector)
	transcription.RegisterDI(injector)
	summary.RegisterDI(injector)
	sqlite.RegisterDI(injector)

	do.Provide(injector, func(i do.Injector) (*pipeline.Orchestrator, error) {
		c := do.MustInvoke[*config.Config](i)
		return pipeline.New(
			pipeline.OptionsFromConfig(c),
			do.MustInvoke[*resolver.Resolver](i),
			do.MustInvoke[*extractor.Extractor](i),
			do.MustInvoke[*transcription.Client](i),
			do.MustInvoke[*summary.Summarizer](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*handlers.Handler, error) {
		c := do.MustInvoke[*config.Config](i)

		var usage repository.UsageRepository
		if c.Database.Enabled {
			repo, err := do.Invoke[repository.UsageRepository](i)
			if err != nil {
				return nil, err
			}
			usage = repo
		}

		return handlers.NewHandler(
			c,
			do.MustInvoke[*pipeline.Orchestrator](i),
			usage,
			validation.NewValidator(c.Pipeline.MaxDurationMinutes),
		), nil
	})

	return injector
}
