// Package autoassist implements the orchestrator persona: it decomposes a
// free-form request into ordered subtasks, routes each to the best-matching
// assistant, gates on user confirmation, executes the subtasks strictly in
// sequence with chained context, and merges the results into one report.
package autoassist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cexll/assisthub-go/pkg/assistant"
	"github.com/cexll/assisthub-go/pkg/chat"
	"github.com/cexll/assisthub-go/pkg/event"
	"github.com/cexll/assisthub-go/pkg/model"
	"github.com/cexll/assisthub-go/pkg/telemetry"
)

// State of the orchestrator's confirmation machine.
type State string

const (
	StateIdle         State = "idle"
	StateAwaitConfirm State = "awaitConfirm"
	StateExecuting    State = "executing"
)

// AssistantID is the reserved id of the orchestrator pseudo-assistant in
// the collection.
const AssistantID = "autoassist"

const (
	assistantTitle = "AutoAssist"
	systemPrompt   = "You are AutoAssist, an orchestrator that plans and delegates work across specialised assistants."

	defaultFallbackPrompt = "You are a capable general-purpose assistant. Execute the given task yourself, completely and directly."

	confirmPrompt      = "Shall I proceed with this plan? Please answer yes or no."
	clarifyNote        = "Please answer yes or no."
	cancelNote         = "Understood, the plan has been discarded."
	infraErrorNote     = "Sorry, something went wrong while planning this request. Please try again."
	subtaskFailureText = "This subtask could not be completed due to an error."
)

var (
	// ErrBusy reports a submission while a run is already in flight.
	ErrBusy = errors.New("autoassist: a request is already in progress")
)

// Subtask is one unit of decomposed work. Recommended is empty when no
// assistant matched.
type Subtask struct {
	Task        string `json:"task"`
	Recommended string `json:"recommendedAssistant,omitempty"`
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithAgentMode skips the confirmation gate entirely.
func WithAgentMode(enabled bool) Option {
	return func(o *Orchestrator) { o.agentMode = enabled }
}

// WithEventSink publishes progress events to sink.
func WithEventSink(sink event.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithFallbackPrompt overrides the generic persona used for unrouted
// subtasks.
func WithFallbackPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(prompt) != "" {
			o.fallbackPrompt = prompt
		}
	}
}

// Orchestrator drives the AutoAssist state machine. All execution is
// strictly sequential: later gateway calls consume earlier outputs, so
// nothing here runs concurrently.
type Orchestrator struct {
	manager        *chat.Manager
	completer      model.Completer
	log            *zap.Logger
	sink           event.Sink
	agentMode      bool
	fallbackPrompt string

	mu          sync.Mutex
	state       State
	inFlight    bool
	pending     []Subtask
	attachments []model.Attachment
}

// New wires an Orchestrator and ensures the pseudo-assistant exists in the
// collection.
func New(manager *chat.Manager, completer model.Completer, log *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if manager == nil {
		return nil, errors.New("autoassist: manager is required")
	}
	if completer == nil {
		return nil, errors.New("autoassist: completer is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		manager:        manager,
		completer:      completer,
		log:            log,
		fallbackPrompt: defaultFallbackPrompt,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	manager.Ensure(AssistantID, assistantTitle, systemPrompt)
	manager.SetReplayHook(AssistantID, o.replayEdited)
	return o, nil
}

// replayEdited re-enters planning for a revised request after an edit. A
// plan still awaiting confirmation was built against the old history, so
// it is discarded before re-planning. Returns the note appended last,
// which is the confirmation prompt or (agent mode) the merged report.
func (o *Orchestrator) replayEdited(ctx context.Context, text string, attachments []model.Attachment) (string, error) {
	o.mu.Lock()
	if o.inFlight || o.state == StateExecuting {
		o.mu.Unlock()
		return "", ErrBusy
	}
	o.pending = nil
	o.attachments = nil
	o.state = StateIdle
	o.inFlight = true
	o.mu.Unlock()
	defer o.clearInFlight()

	if err := o.submit(ctx, text, attachments, true); err != nil {
		return "", err
	}
	return o.lastNote()
}

// lastNote returns the most recent assistant-authored display entry.
func (o *Orchestrator) lastNote() (string, error) {
	a, err := o.manager.Get(AssistantID)
	if err != nil {
		return "", err
	}
	history := a.DisplayHistory()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleAssistant {
			return history[i].Content, nil
		}
	}
	return "", nil
}

// State returns the current confirmation-machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetEventSink installs or replaces the sink run events are published to.
func (o *Orchestrator) SetEventSink(sink event.Sink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sink = sink
}

// SubmitOption tweaks one submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	skipUserAppend bool
}

// WithSkipUserAppend is used when re-entering from an edit-replay: the
// revised user turn is already in the history.
func WithSkipUserAppend() SubmitOption {
	return func(s *submitOptions) { s.skipUserAppend = true }
}

// HandleMessage is the single entry point for user messages addressed to
// AutoAssist. In awaitConfirm state the message is interpreted as an answer
// to the confirmation prompt, not as a new request.
func (o *Orchestrator) HandleMessage(ctx context.Context, text string, attachments []model.Attachment, opts ...SubmitOption) error {
	var cfg submitOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	o.mu.Lock()
	switch {
	case o.inFlight || o.state == StateExecuting:
		o.mu.Unlock()
		return ErrBusy
	case o.state == StateAwaitConfirm:
		o.mu.Unlock()
		return o.handleConfirmation(ctx, text)
	}
	o.inFlight = true
	o.mu.Unlock()
	defer o.clearInFlight()

	return o.submit(ctx, text, attachments, cfg.skipUserAppend)
}

func (o *Orchestrator) clearInFlight() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

// submit runs decomposition and routing, then either asks for confirmation
// or (agent mode) executes immediately. Any gateway failure here aborts the
// whole flow with a single generic error note.
func (o *Orchestrator) submit(ctx context.Context, request string, attachments []model.Attachment, skipAppend bool) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "autoassist.submit",
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.Int("request.attachments", len(attachments)),
		)...))
	defer telemetry.EndSpan(span, err)

	if !skipAppend {
		if appendErr := o.manager.AppendUser(AssistantID, request, attachments); appendErr != nil {
			return appendErr
		}
	}

	tasks, err := o.decompose(ctx, request)
	if err != nil {
		return o.abort(err)
	}
	roster := o.roster()
	subtasks := make([]Subtask, len(tasks))
	for i, task := range tasks {
		title, routeErr := o.route(ctx, roster, tasks, i)
		if routeErr != nil {
			return o.abort(routeErr)
		}
		subtasks[i] = Subtask{Task: task, Recommended: title}
	}

	if appendErr := o.manager.AppendAssistant(AssistantID, planSummary(subtasks), ""); appendErr != nil {
		return o.abort(appendErr)
	}
	o.emit(event.New(event.TypePlanBuilt, AssistantID, subtasks))

	o.mu.Lock()
	o.pending = subtasks
	o.attachments = attachments
	if o.agentMode {
		o.state = StateExecuting
		o.mu.Unlock()
		return o.execute(ctx)
	}
	o.state = StateAwaitConfirm
	o.mu.Unlock()

	if appendErr := o.manager.AppendAssistant(AssistantID, confirmPrompt, ""); appendErr != nil {
		o.log.Warn("append confirmation prompt", zap.Error(appendErr))
	}
	o.emit(event.New(event.TypeConfirmRequired, AssistantID, nil))
	return nil
}

// handleConfirmation interprets the next user message while awaiting
// confirmation. Anything other than yes/no asks again and stays put.
func (o *Orchestrator) handleConfirmation(ctx context.Context, answer string) error {
	if appendErr := o.manager.AppendUser(AssistantID, answer, nil); appendErr != nil {
		return appendErr
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes":
		o.mu.Lock()
		o.state = StateExecuting
		o.mu.Unlock()
		return o.execute(ctx)
	case "no":
		o.mu.Lock()
		o.pending = nil
		o.attachments = nil
		o.state = StateIdle
		o.mu.Unlock()
		if appendErr := o.manager.AppendAssistant(AssistantID, cancelNote, ""); appendErr != nil {
			o.log.Warn("append cancellation note", zap.Error(appendErr))
		}
		o.emit(event.New(event.TypeRunCancelled, AssistantID, nil))
		return nil
	default:
		if appendErr := o.manager.AppendAssistant(AssistantID, clarifyNote, ""); appendErr != nil {
			o.log.Warn("append clarification note", zap.Error(appendErr))
		}
		return nil
	}
}

// execute runs the pending subtasks strictly in order. Each prompt carries
// a digest of all prior outputs, so parallelism is impossible by design. A
// single subtask failure yields a placeholder and the loop continues;
// context cancellation aborts the whole run.
func (o *Orchestrator) execute(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "autoassist.execute")
	defer telemetry.EndSpan(span, err)

	o.mu.Lock()
	subtasks := o.pending
	attachments := o.attachments
	o.mu.Unlock()

	roster := o.roster()
	reports := make([]string, 0, len(subtasks))
	for i, st := range subtasks {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.abort(ctxErr)
		}
		o.emit(event.New(event.TypeSubtaskStarted, AssistantID, map[string]any{"index": i, "task": st.Task}))

		output, runErr := o.dispatch(ctx, roster, st, reports, attachments)
		if runErr != nil {
			o.log.Warn("subtask dispatch failed",
				zap.Int("index", i), zap.String("task", st.Task), zap.Error(runErr))
			output = subtaskFailureText
		}
		reports = append(reports, output)
		o.emit(event.New(event.TypeSubtaskFinished, AssistantID, map[string]any{
			"index": i, "task": st.Task, "failed": runErr != nil,
		}))
	}

	merged := mergeReports(subtasks, reports)
	if appendErr := o.manager.AppendAssistant(AssistantID, merged, ""); appendErr != nil {
		o.log.Warn("append merged report", zap.Error(appendErr))
	}
	o.emit(event.New(event.TypeRunMerged, AssistantID, nil))

	o.mu.Lock()
	o.pending = nil
	o.attachments = nil
	o.state = StateIdle
	o.mu.Unlock()
	return nil
}

// dispatch runs one subtask against its recommended assistant, or the
// generic fallback persona when none matched. The original request's
// attachments are re-attached to every dispatch.
func (o *Orchestrator) dispatch(ctx context.Context, roster assistant.Roster, st Subtask, prior []string, attachments []model.Attachment) (string, error) {
	system := o.fallbackPrompt
	if st.Recommended != "" {
		if a := roster.Find(st.Recommended); a != nil {
			system = a.SystemPrompt
		}
	}
	var prompt strings.Builder
	prompt.WriteString("Task: ")
	prompt.WriteString(st.Task)
	if len(prior) > 0 {
		prompt.WriteString("\n\nPrevious task results:\n")
		for i, r := range prior {
			fmt.Fprintf(&prompt, "%d. %s\n", i+1, r)
		}
	}
	return o.completer.Complete(ctx, model.Request{
		Messages:     []model.Message{model.UserMessage(prompt.String(), attachments...)},
		SystemPrompt: system,
	})
}

// abort surfaces an infra failure (decomposition/routing, not a single
// subtask) as one generic chat note and resets to idle.
func (o *Orchestrator) abort(cause error) error {
	if appendErr := o.manager.AppendAssistant(AssistantID, infraErrorNote, ""); appendErr != nil {
		o.log.Warn("append error note", zap.Error(appendErr))
	}
	o.emit(event.New(event.TypeError, AssistantID, cause.Error()))
	o.mu.Lock()
	o.pending = nil
	o.attachments = nil
	o.state = StateIdle
	o.mu.Unlock()
	return fmt.Errorf("autoassist: %w", cause)
}

// roster is the routing view: every assistant except AutoAssist itself.
func (o *Orchestrator) roster() assistant.Roster {
	all := o.manager.Roster()
	out := make(assistant.Roster, 0, len(all))
	for _, a := range all {
		if a.ID != AssistantID {
			out = append(out, a)
		}
	}
	return out
}

func (o *Orchestrator) emit(evt event.Event) {
	o.mu.Lock()
	sink := o.sink
	o.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.Send(evt); err != nil {
		o.log.Debug("emit progress event", zap.Error(err))
	}
}

// planSummary renders the human-readable plan appended to the history.
func planSummary(subtasks []Subtask) string {
	var b strings.Builder
	b.WriteString("Here is the plan:\n")
	for i, st := range subtasks {
		who := st.Recommended
		if who == "" {
			who = "general assistant"
		}
		fmt.Fprintf(&b, "%d. %s → %s\n", i+1, st.Task, who)
	}
	return strings.TrimRight(b.String(), "\n")
}

// mergeReports concatenates all subtask reports into the final message.
func mergeReports(subtasks []Subtask, reports []string) string {
	var b strings.Builder
	b.WriteString("All tasks are done. Combined results:\n")
	for i, st := range subtasks {
		fmt.Fprintf(&b, "\n### %d. %s\n%s\n", i+1, st.Task, reports[i])
	}
	return strings.TrimRight(b.String(), "\n")
}
