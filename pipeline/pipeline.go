package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/fallback"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/retry"
	"github.com/nijaru/catchup/validation"
	"github.com/sirupsen/logrus"
)

type State string

const (
	StateResolving    State = "resolving"
	StateExtracting   State = "extracting"
	StateTranscribing State = "transcribing"
	StateSummarizing  State = "summarizing"
	StateDone         State = "done"
	StateFallback     State = "fallback"
)

type Resolver interface {
	Resolve(ctx context.Context, channel models.Channel, minutes int) (models.ResolvedArchive, error)
}

type Extractor interface {
	Extract(ctx context.Context, archive models.ResolvedArchive, budget *retry.Budget) (models.AudioSegment, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio models.AudioSegment) (models.Transcript, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript models.Transcript, archive models.ResolvedArchive) (models.Summary, error)
}

// Options is the read-only configuration an Orchestrator is built with.
type Options struct {
	Budget             time.Duration
	MaxDurationMinutes int
	Retries            int
	RetryScope         retry.Scope
	// DegradeOnTranscriptionFailure returns a Success without a transcript
	// instead of a fallback when transcription fails.
	DegradeOnTranscriptionFailure bool
	IncludeTranscript             bool
	CreditsPerMinute              int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Budget:                        cfg.Pipeline.Budget,
		MaxDurationMinutes:            cfg.Pipeline.MaxDurationMinutes,
		Retries:                       cfg.Pipeline.TransientRetries,
		RetryScope:                    retry.Scope(cfg.ExtractRetryScope()),
		DegradeOnTranscriptionFailure: cfg.Pipeline.DegradeOnTranscriptionFailure,
		IncludeTranscript:             cfg.Pipeline.IncludeTranscript,
		CreditsPerMinute:              cfg.Billing.CreditsPerMinute,
	}
}

type Orchestrator struct {
	opts        Options
	resolver    Resolver
	extractor   Extractor
	transcriber Transcriber
	summarizer  Summarizer
	now         func() time.Time
}

func New(opts Options, resolver Resolver, extractor Extractor, transcriber Transcriber, summarizer Summarizer) *Orchestrator {
	return &Orchestrator{
		opts:        opts,
		resolver:    resolver,
		extractor:   extractor,
		transcriber: transcriber,
		summarizer:  summarizer,
		now:         time.Now,
	}
}

// run holds the per-request state of one pipeline invocation.
type run struct {
	request models.CatchUpRequest
	parent  context.Context
	ctx     context.Context
	state   State
	stages  []string
	archive *models.ResolvedArchive
	started time.Time
	log     *logrus.Entry
	notes   []string
}

func (r *run) enter(s State) {
	r.state = s
	r.stages = append(r.stages, string(s))
	r.log.WithField("state", s).Debug("Pipeline state")
}

// Run takes one request through resolve, extract, transcribe and summarize
// and always returns exactly one Result.
func (o *Orchestrator) Run(ctx context.Context, request models.CatchUpRequest) models.Result {
	const op = "Orchestrator.Run"

	if err := validation.ValidateDuration(request.DurationMinutes, o.opts.MaxDurationMinutes); err != nil {
		return models.Failure(string(errors.KindInvalidRequest), err.Error())
	}

	budgetCtx, cancel := context.WithTimeout(ctx, o.opts.Budget)
	defer cancel()

	budget := retry.NewBudget(o.opts.Retries, o.opts.RetryScope)
	budgetCtx = retry.WithBudget(budgetCtx, budget)

	r := &run{
		request: request,
		parent:  ctx,
		ctx:     budgetCtx,
		started: o.now(),
		log: logger.FromContext(ctx).WithFields(logrus.Fields{
			"platform": request.Channel.Platform,
			"channel":  request.Channel.Login,
			"minutes":  request.DurationMinutes,
		}),
	}

	r.enter(StateResolving)
	archive, err := o.resolver.Resolve(r.ctx, request.Channel, request.DurationMinutes)
	if err != nil {
		return o.fail(r, err, nil)
	}
	r.archive = &archive

	r.enter(StateExtracting)
	audio, err := o.extractor.Extract(r.ctx, archive, budget)
	if err != nil {
		return o.fail(r, err, nil)
	}

	r.enter(StateTranscribing)
	transcript, err := o.transcriber.Transcribe(r.ctx, audio)
	if err != nil {
		return o.fail(r, err, nil)
	}

	r.enter(StateSummarizing)
	var summary models.Summary
	if transcript.Empty() {
		summary = models.NoSpeechSummary()
	} else {
		summary, err = o.summarizer.Summarize(r.ctx, transcript, archive)
		if err != nil {
			return o.fail(r, err, &transcript)
		}
	}

	return o.succeed(r, summary, &transcript, o.opts.IncludeTranscript)
}

// fail maps a classified stage failure onto the terminal result. This is
// the only place an error kind turns into a transition.
func (o *Orchestrator) fail(r *run, err error, transcript *models.Transcript) models.Result {
	stage := string(r.state)
	log := r.log.WithFields(logrus.Fields{
		"stage": stage,
		"error": err,
	})

	if r.ctx.Err() != nil {
		if r.parent.Err() != nil {
			log.Warn("Request cancelled by caller")
			return models.Failure(string(errors.KindInternal), "request cancelled")
		}
		log.Warn("Time budget exhausted")
		return o.fallback(r, models.ReasonBudgetExceeded, stage)
	}

	switch errors.KindOf(err) {
	case errors.KindInvalidRequest:
		log.Info("Invalid request")
		return models.Failure(string(errors.KindInvalidRequest), err.Error())

	case errors.KindNoArchiveAvailable:
		log.Info("No archive available")
		return o.fallback(r, models.ReasonNoArchiveAvailable, stage)

	case errors.KindBlocked, errors.KindTransient, errors.KindFormatOrProtocol:
		log.Warn("Upstream refused or could not be processed")
		return o.fallback(r, models.ReasonBlocked, stage)

	case errors.KindBudgetExceeded:
		log.Warn("Time budget exhausted")
		return o.fallback(r, models.ReasonBudgetExceeded, stage)

	case errors.KindTranscriptionFailed:
		if !o.opts.DegradeOnTranscriptionFailure {
			log.Warn("Transcription failed")
			return o.fallback(r, models.ReasonTranscriptionFailed, stage)
		}
		log.Warn("Transcription failed, returning degraded result")
		r.notes = append(r.notes, "no transcript was produced: "+err.Error())
		return o.succeed(r, models.UnavailableSummary(err.Error()), nil, false)

	case errors.KindSummarizationFailed:
		if transcript != nil {
			log.Warn("Summarization failed, returning transcript")
			r.notes = append(r.notes, "summary unavailable: "+err.Error())
			return o.succeed(r, models.TranscriptOnlySummary(err.Error()), transcript, true)
		}
	}

	log.Error("Unclassified pipeline failure")
	return models.Failure(string(errors.KindInternal), "internal error while "+stage)
}

func (o *Orchestrator) fallback(r *run, reason models.FallbackReason, stage string) models.Result {
	r.state = StateFallback
	result := fallback.Compose(r.request, r.archive, reason, stage)
	r.log.WithFields(logrus.Fields{
		"reason":  reason,
		"stage":   stage,
		"link":    result.Link,
		"elapsed": o.now().Sub(r.started),
	}).Info("Catch-up fell back to manual access")
	return result
}

func (o *Orchestrator) succeed(r *run, summary models.Summary, transcript *models.Transcript, include bool) models.Result {
	r.enter(StateDone)

	meta := models.Meta{
		Duration:          r.request.DurationMinutes,
		RequestedDuration: r.request.DurationMinutes,
		CostEstimate:      o.opts.CreditsPerMinute * r.request.DurationMinutes,
		Platform:          r.request.Channel.Platform,
		Channel:           r.request.Channel.Login,
		ProcessingTime:    math.Round(o.now().Sub(r.started).Seconds()*100) / 100,
		Stages:            r.stages,
		Notes:             r.notes,
	}
	if r.archive != nil {
		meta.Duration = int(math.Ceil(r.archive.Window().Minutes()))
		meta.ArchiveID = r.archive.ArchiveID
		meta.ArchiveURL = r.archive.ArchiveURL
		meta.StreamTitle = r.archive.Title
	}

	if !include {
		transcript = nil
	}

	r.log.WithFields(logrus.Fields{
		"archive_id":      meta.ArchiveID,
		"processing_time": meta.ProcessingTime,
		"no_speech":       summary.NoSpeech,
		"unavailable":     summary.Unavailable,
	}).Info("Catch-up completed")

	return models.Success(summary, transcript, meta)
}
