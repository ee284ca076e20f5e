package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/myrjola/amlnarrator/internal/ai"
	"github.com/myrjola/amlnarrator/internal/classify"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/executor"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/questions"
	"github.com/myrjola/amlnarrator/internal/repositories"
)

// ConversationStore is the part of the conversation store a run resets.
type ConversationStore interface {
	Clear(ctx context.Context, sessionID string) error
}

// ReportStore persists slot state and the generation header.
type ReportStore interface {
	SaveSlot(ctx context.Context, caseID string, rt models.ReportType, slot models.Slot) error
	SaveHeader(ctx context.Context, report *models.Report) error
	Get(ctx context.Context, caseID string, rt models.ReportType) (*models.Report, error)
	Reset(ctx context.Context, caseID string, rt models.ReportType) error
}

// Backend answers the questions of a run.
type Backend interface {
	ai.Backend
	Settings() ai.Settings
}

// BackendFactory returns a backend that frames every question with systemPrompt.
type BackendFactory func(systemPrompt string) Backend

// SlotError tells which slot halted a run. Slots answered before it stay persisted.
type SlotError struct {
	CaseID     string
	ReportType models.ReportType
	Tag        models.SlotTag
	Err        error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("%s slot %q of case %q: %v", e.ReportType, e.Tag, e.CaseID, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

type EventType int

const (
	// EventSlotStarted is sent when a slot moves to in progress.
	EventSlotStarted EventType = iota
	// EventFragment carries a piece of the answer being generated.
	EventFragment
	// EventDiscard voids the fragments of a failed attempt.
	EventDiscard
	// EventSlotAnswered carries the final answer of a slot.
	EventSlotAnswered
	// EventSlotSkipped is sent for slots that keep their previous state.
	EventSlotSkipped
	// EventSlotFailed is sent when a slot halts the run.
	EventSlotFailed
)

// Event reports the progress of a run.
type Event struct {
	Type     EventType
	Slot     models.Slot
	Attempt  int
	Fragment string
	Err      error
}

// Observer receives events synchronously from the goroutine driving the run.
type Observer func(Event)

// Options adjust a run.
type Options struct {
	// Partial keeps the conversation session and the answered slots. Only unanswered slots and the ones listed in
	// Regenerate are asked.
	Partial    bool
	Regenerate []models.SlotTag
	Documents  models.Documents
	// MaxRetries bounds the attempts per slot. Zero means executor.DefaultMaxRetries.
	MaxRetries int
	Observer   Observer
}

type Orchestrator struct {
	conversations ConversationStore
	reports       ReportStore
	backends      BackendFactory
	executor      *executor.Executor
	locks         *sessionLocks
	now           func() time.Time
	logger        *slog.Logger
}

type Option func(*Orchestrator)

// WithClock replaces the clock used for the report header.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func New(
	conversations ConversationStore,
	reports ReportStore,
	backends BackendFactory,
	exec *executor.Executor,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		conversations: conversations,
		reports:       reports,
		backends:      backends,
		executor:      exec,
		locks:         newSessionLocks(),
		now:           time.Now,
		logger:        logger.With("source", "Orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run holds the state of one pass over a question set.
type run struct {
	*Orchestrator
	caseID    string
	set       questions.Set
	sessionID string
	opts      Options
	backend   Backend
	report    *models.Report
	answers   map[models.SlotTag]string
	logger    *slog.Logger
}

// Run drives the question set for the case in slot order and returns the resulting report.
//
// Only one run per case and report type executes at a time; further calls wait for the running one. A failing slot
// halts the run with a *SlotError and the report built so far.
func (o *Orchestrator) Run(ctx context.Context, caseID string, set questions.Set, opts Options) (*models.Report, error) {
	sessionID := models.SessionID(caseID, set.ReportType)
	release, err := o.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "wait for session", slog.String("session_id", sessionID))
	}
	defer release()

	if opts.Observer == nil {
		opts.Observer = func(Event) {}
	}
	runID := uuid.NewString()
	r := &run{
		Orchestrator: o,
		caseID:       caseID,
		set:          set,
		sessionID:    sessionID,
		opts:         opts,
		backend:      nil,
		report:       nil,
		answers:      make(map[models.SlotTag]string, len(set.Slots)),
		logger: o.logger.With(
			slog.String("case_id", caseID),
			slog.String("report_type", string(set.ReportType)),
			slog.String("run_id", runID),
		),
	}

	systemPrompt, err := set.SystemPrompt(opts.Documents)
	if err != nil {
		return nil, errors.Wrap(err, "build system prompt")
	}
	r.backend = o.backends(systemPrompt)
	settings := r.backend.Settings()
	r.report = &models.Report{
		CaseID:      caseID,
		ReportType:  set.ReportType,
		RunID:       runID,
		GeneratedAt: o.now(),
		Model:       settings.Model,
		Temperature: settings.Temperature,
		Slots:       make([]models.Slot, 0, len(set.Slots)),
	}

	previous, err := r.prepare(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "run started",
		slog.Bool("partial", opts.Partial), slog.Int("slots", len(set.Slots)))

	regenerate := make(map[models.SlotTag]bool, len(opts.Regenerate))
	for _, tag := range opts.Regenerate {
		regenerate[tag] = true
	}
	for position, spec := range set.Slots {
		if prev, ok := previous[spec.Tag]; ok && prev.State == models.SlotStateAnswered && !regenerate[spec.Tag] {
			prev.Position = position
			r.answers[spec.Tag] = prev.Answer
			r.report.Slots = append(r.report.Slots, prev)
			opts.Observer(Event{Type: EventSlotSkipped, Slot: prev})
			continue
		}
		if err = r.slot(ctx, position, spec); err != nil {
			return r.report, err
		}
	}

	r.report.GeneratedAt = o.now()
	if err = o.reports.SaveHeader(ctx, r.report); err != nil {
		return r.report, errors.Wrap(err, "save report header")
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "run finished")
	return r.report, nil
}

// prepare resets the session and report of a fresh run or loads the slots a partial run continues from.
func (r *run) prepare(ctx context.Context) (map[models.SlotTag]models.Slot, error) {
	previous := make(map[models.SlotTag]models.Slot)
	rt := r.set.ReportType
	if r.opts.Partial {
		report, err := r.reports.Get(ctx, r.caseID, rt)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
		case err != nil:
			return nil, errors.Wrap(err, "load previous report")
		default:
			for _, slot := range report.Slots {
				previous[slot.Tag] = slot
			}
		}
	} else {
		if err := r.conversations.Clear(ctx, r.sessionID); err != nil {
			return nil, errors.Wrap(err, "clear session")
		}
		if err := r.reports.Reset(ctx, r.caseID, rt); err != nil {
			return nil, errors.Wrap(err, "reset report")
		}
	}

	if err := r.reports.SaveHeader(ctx, r.report); err != nil {
		return nil, errors.Wrap(err, "save report header")
	}
	for position, spec := range r.set.Slots {
		if _, ok := previous[spec.Tag]; ok {
			continue
		}
		if err := r.reports.SaveSlot(ctx, r.caseID, rt, pendingSlot(position, spec)); err != nil {
			return nil, errors.Wrap(err, "save pending slot")
		}
	}
	return previous, nil
}

func pendingSlot(position int, spec questions.SlotSpec) models.Slot {
	return models.Slot{
		Tag:      spec.Tag,
		Title:    spec.Title,
		Position: position,
		State:    models.SlotStatePending,
		Kind:     models.KindProse,
		Answer:   "",
		Updated:  time.Time{},
	}
}

// slot takes one slot from pending to answered or failed.
func (r *run) slot(ctx context.Context, position int, spec questions.SlotSpec) error {
	slot := pendingSlot(position, spec)
	logger := r.logger.With(slog.String("slot", string(spec.Tag)))

	if err := ctx.Err(); err != nil {
		r.report.Slots = append(r.report.Slots, slot)
		return r.slotError(spec.Tag, err)
	}
	if !spec.Eligible(r.opts.Documents) {
		logger.LogAttrs(ctx, slog.LevelInfo, "slot not eligible", slog.Any("requires", spec.Requires))
		if err := r.reports.SaveSlot(ctx, r.caseID, r.set.ReportType, slot); err != nil {
			return r.fail(ctx, slot, err)
		}
		r.report.Slots = append(r.report.Slots, slot)
		r.opts.Observer(Event{Type: EventSlotSkipped, Slot: slot})
		return nil
	}

	inherited, prompt, err := r.resolve(ctx, spec)
	if err != nil {
		return r.fail(ctx, slot, err)
	}

	slot.State = models.SlotStateInProgress
	if err = r.reports.SaveSlot(ctx, r.caseID, r.set.ReportType, slot); err != nil {
		return r.fail(ctx, slot, err)
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "slot in progress")
	r.opts.Observer(Event{Type: EventSlotStarted, Slot: slot})

	attrs := []slog.Attr{}
	if inherited != nil {
		slot.Answer = inherited.Answer
		slot.Kind = inherited.Kind
		attrs = append(attrs, slog.Bool("inherited", true))
	} else {
		result, execErr := r.executor.Execute(ctx, r.call(spec, prompt), r.opts.MaxRetries, func(ev executor.Event) {
			switch ev.Type {
			case executor.EventFragment:
				r.opts.Observer(Event{Type: EventFragment, Slot: slot, Attempt: ev.Attempt, Fragment: ev.Fragment})
			case executor.EventDiscard:
				r.opts.Observer(Event{Type: EventDiscard, Slot: slot, Attempt: ev.Attempt, Err: ev.Err})
			}
		})
		if execErr != nil {
			if ctx.Err() != nil {
				return r.interrupt(ctx, slot, execErr)
			}
			return r.fail(ctx, slot, execErr)
		}
		slot.Answer = result.Text
		slot.Kind = classify.Classify(result.Text)
		attrs = append(attrs, slog.Int("attempts", result.Attempts), slog.Bool("sentinel", result.Sentinel))
	}

	slot.State = models.SlotStateAnswered
	if err = r.reports.SaveSlot(ctx, r.caseID, r.set.ReportType, slot); err != nil {
		return r.fail(ctx, slot, err)
	}
	slot.Updated = r.now()
	r.answers[spec.Tag] = slot.Answer
	r.report.Slots = append(r.report.Slots, slot)
	attrs = append(attrs, slog.String("kind", string(slot.Kind)))
	logger.LogAttrs(ctx, slog.LevelInfo, "slot answered", attrs...)
	r.opts.Observer(Event{Type: EventSlotAnswered, Slot: slot})
	return nil
}

// resolve returns either the slot an inheriting rule copies or the prompt to ask.
func (r *run) resolve(ctx context.Context, spec questions.SlotSpec) (*models.Slot, string, error) {
	source, tag, ok := spec.Prompt.Inherits()
	if !ok {
		prompt, err := spec.Prompt.Resolve(questions.Input{Answers: r.answers, Documents: r.opts.Documents})
		if err != nil {
			return nil, "", errors.Wrap(err, "resolve prompt")
		}
		return nil, prompt, nil
	}

	attrs := []slog.Attr{slog.String("source", string(source)), slog.String("source_slot", string(tag))}
	report, err := r.reports.Get(ctx, r.caseID, source)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, "", errors.Wrap(questions.ErrMalformedInput, "no report to inherit from", attrs...)
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "load report to inherit from", attrs...)
	}
	slot, ok := report.Slot(tag)
	if !ok || slot.State != models.SlotStateAnswered {
		return nil, "", errors.Wrap(questions.ErrMalformedInput, "inherited slot not answered", attrs...)
	}
	return &slot, "", nil
}

func (r *run) call(spec questions.SlotSpec, prompt string) executor.Call {
	if spec.Mode == questions.ModeBlocking {
		return executor.Blocking(r.backend, r.sessionID, prompt)
	}
	return executor.Streaming(r.backend, r.sessionID, prompt)
}

// fail marks the slot failed and halts the run. The state is written even if ctx is already cancelled.
func (r *run) fail(ctx context.Context, slot models.Slot, cause error) error {
	slot.State = models.SlotStateFailed
	r.report.Slots = append(r.report.Slots, slot)
	if err := r.reports.SaveSlot(context.WithoutCancel(ctx), r.caseID, r.set.ReportType, slot); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "could not mark slot failed",
			slog.String("slot", string(slot.Tag)), errors.SlogError(err))
	}
	r.logger.LogAttrs(ctx, slog.LevelError, "slot failed", slog.String("slot", string(slot.Tag)), errors.SlogError(cause))
	r.opts.Observer(Event{Type: EventSlotFailed, Slot: slot, Err: cause})
	return r.slotError(slot.Tag, cause)
}

// interrupt puts a cancelled slot back to pending so that a later run resumes it.
func (r *run) interrupt(ctx context.Context, slot models.Slot, cause error) error {
	slot.State = models.SlotStatePending
	slot.Answer = ""
	r.report.Slots = append(r.report.Slots, slot)
	if err := r.reports.SaveSlot(context.WithoutCancel(ctx), r.caseID, r.set.ReportType, slot); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "could not reset interrupted slot",
			slog.String("slot", string(slot.Tag)), errors.SlogError(err))
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "slot interrupted", slog.String("slot", string(slot.Tag)),
		errors.SlogError(cause))
	return r.slotError(slot.Tag, cause)
}

func (r *run) slotError(tag models.SlotTag, err error) *SlotError {
	return &SlotError{CaseID: r.caseID, ReportType: r.set.ReportType, Tag: tag, Err: err}
}
