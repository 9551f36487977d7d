// Package completion drives a single streaming generation from request to
// end, translating upstream stream events into lifecycle messages.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"ghostwriter/internal/llm"
	"ghostwriter/internal/logger"
	"ghostwriter/internal/menu"
	"ghostwriter/internal/notify"
	"ghostwriter/internal/protocol"
	"ghostwriter/internal/store"
)

const (
	// DefaultSystemPrompt is used when a trigger has no stored prompt template.
	DefaultSystemPrompt = "You are a helpful writing assistant."
	// ContinuePrompt is the user message appended to resume a truncated turn.
	ContinuePrompt = "continue"
	// FailureLabel is shown on a turn that ended with a transport error.
	FailureLabel = "request failed"
)

// Sender publishes lifecycle messages to display surfaces.
type Sender interface {
	Send(msg protocol.Message) error
	Ping() error
}

// CredentialSource resolves the bearer token for upstream requests.
type CredentialSource interface {
	APIToken(ctx context.Context) (string, error)
}

// PromptSource resolves the prompt template of a trigger.
type PromptSource interface {
	Prompt(ctx context.Context, triggerID string) (string, error)
}

// ProviderFactory builds an upstream provider bound to an API token.
type ProviderFactory func(apiToken string) llm.Provider

// Config wires a Session to its collaborators.
type Config struct {
	Bus         Sender
	Credentials CredentialSource
	Prompts     PromptSource
	Notifier    notify.Notifier
	NewProvider ProviderFactory

	Model       string
	MaxTokens   int
	Temperature *float64

	// NewTurnID defaults to uuid.NewString.
	NewTurnID func() string
	// OnTransition observes every state change. It runs with the session
	// locked and must not call back into the session.
	OnTransition func(from, to State)
}

// GenerationRequest describes one upstream request.
type GenerationRequest struct {
	Kind          string
	SourceText    string
	TurnID        string
	PriorMessages []llm.Message
	// SkipStart suppresses the start message for continuations of an existing turn.
	SkipStart bool
}

// Run is a launched generation.
type Run struct {
	TurnID string

	done chan struct{}
	err  error
}

// Done is closed when the generation has reached a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the generation ends and returns its outcome.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Session owns the single in-flight generation.
type Session struct {
	cfg Config

	mu            sync.Mutex
	machine       *fsm.FSM
	cancel        context.CancelFunc
	stopRequested bool
}

// New validates cfg and returns an idle session.
func New(cfg Config) (*Session, error) {
	if cfg.Bus == nil {
		return nil, ErrSenderRequired
	}
	if cfg.NewProvider == nil {
		return nil, ErrProviderRequired
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Log{}
	}
	if cfg.NewTurnID == nil {
		cfg.NewTurnID = uuid.NewString
	}
	s := &Session{cfg: cfg}
	s.machine = newMachine(func(from, to State) {
		logger.Debug("session transition", "from", from, "to", to)
		if cfg.OnTransition != nil {
			cfg.OnTransition(from, to)
		}
	})
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.machine.Current())
}

// IsActive reports whether a generation is in flight.
func (s *Session) IsActive() bool {
	return s.State() != StateIdle
}

// Stop cancels the in-flight generation. It reports whether there was one.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.stopRequested = true
	s.cancel()
	return true
}

// Start launches a fresh turn for a trigger activation.
func (s *Session) Start(ctx context.Context, activation menu.Activation) (*Run, error) {
	prompt := s.systemPrompt(ctx, activation.TriggerID)
	return s.Launch(ctx, InitialRequest(activation, prompt, s.cfg.NewTurnID()))
}

// Continue launches a continuation of a turn truncated at the length limit.
func (s *Session) Continue(ctx context.Context, turn protocol.Turn) (*Run, error) {
	req, err := ContinuationRequest(turn, s.systemPrompt(ctx, turn.Kind))
	if err != nil {
		return nil, err
	}
	run, err := s.Launch(ctx, req)
	if err != nil {
		s.restore(req)
		return nil, err
	}
	return run, nil
}

// Generate runs req to its end. It returns nil when the generation completed
// or was stopped, and a *Failure otherwise.
func (s *Session) Generate(ctx context.Context, req GenerationRequest) error {
	run, err := s.Launch(ctx, req)
	if err != nil {
		return err
	}
	return run.Wait()
}

// Launch claims the session for req and runs it in a new goroutine.
// It returns ErrBusy when a generation is already in flight. ctx bounds the
// whole generation.
func (s *Session) Launch(ctx context.Context, req GenerationRequest) (*Run, error) {
	if req.TurnID == "" {
		req.TurnID = s.cfg.NewTurnID()
	}

	s.mu.Lock()
	if State(s.machine.Current()) != StateIdle {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.fire(eventRequest)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopRequested = false
	s.mu.Unlock()

	run := &Run{TurnID: req.TurnID, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		defer cancel()
		run.err = s.run(runCtx, req)
		s.mu.Lock()
		s.cancel = nil
		s.fire(eventReset)
		s.mu.Unlock()
	}()
	return run, nil
}

// fire applies a transition. Callers hold s.mu. Transitions never observe
// cancellation, since a cancelled context is itself a reason to transition.
func (s *Session) fire(event string) {
	err := s.machine.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		logger.Error("invalid session transition", "event", event, "state", s.machine.Current(), "err", err)
	}
}

func (s *Session) transition(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire(event)
}

func (s *Session) stopped(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested || ctx.Err() != nil
}

func (s *Session) run(ctx context.Context, req GenerationRequest) error {
	log := logger.With("turn", req.TurnID, "kind", req.Kind)
	// Store reads complete even when a stop races the request.
	readCtx := context.WithoutCancel(ctx)

	token := ""
	if s.cfg.Credentials != nil {
		var err error
		token, err = s.cfg.Credentials.APIToken(readCtx)
		if err != nil {
			log.Warn("read api token", "err", err)
		}
	}
	if token == "" {
		s.transition(eventFail)
		s.notify(ctx, notify.Notification{
			Kind:       notify.KindMissingCredential,
			Title:      "API token is not configured",
			Body:       "Set it with: ghostwriter settings set apiToken <token>",
			Persistent: true,
		})
		s.restore(req)
		return &Failure{Reason: ReasonMissingCredential, Err: llm.ErrMissingAPIKey}
	}

	if err := s.cfg.Bus.Ping(); err != nil {
		s.transition(eventFail)
		s.notifyNoReceiver(ctx)
		// A surface attaching between the check and this send still recovers.
		s.restore(req)
		return &Failure{Reason: ReasonNoReceiver, Err: err}
	}

	if s.stopped(ctx) && !req.SkipStart {
		s.transition(eventStop)
		log.Info("generation stopped before start")
		return nil
	}

	if !req.SkipStart {
		if err := s.cfg.Bus.Send(protocol.Start(req.TurnID, req.Kind, req.SourceText)); err != nil {
			s.transition(eventFail)
			s.notifyNoReceiver(ctx)
			return &Failure{Reason: ReasonNoReceiver, Err: err}
		}
	}

	messages := req.PriorMessages
	if len(messages) == 0 {
		messages = []llm.Message{
			llm.SystemMessage(s.systemPrompt(readCtx, req.Kind)),
			llm.UserMessage(req.SourceText),
		}
	}
	if ctx.Err() != nil {
		return s.terminate(ctx, req, ctx.Err())
	}
	provider := s.cfg.NewProvider(token)
	events, err := llm.Stream(ctx, provider, &llm.Request{
		Model:       s.cfg.Model,
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return s.terminate(ctx, req, err)
	}
	s.transition(eventStream)

	for ev := range events {
		switch ev.Type {
		case llm.EventTextDelta:
			s.send(req, protocol.InProgress(req.TurnID, ev.TextDelta, req.SourceText))
		case llm.EventDone:
			reason := llm.StopReasonStop
			if ev.Done != nil {
				reason = ev.Done.Reason
			}
			switch reason {
			case llm.StopReasonLength:
				s.transition(eventComplete)
				s.send(req, protocol.End(req.TurnID, req.SourceText, protocol.FinishLength, ""))
				return nil
			case llm.StopReasonError:
				return s.terminate(ctx, req, fmt.Errorf("%w: upstream finished with an error", llm.ErrUpstream))
			default:
				s.transition(eventComplete)
				s.send(req, protocol.End(req.TurnID, req.SourceText, protocol.FinishStop, ""))
				return nil
			}
		case llm.EventError:
			return s.terminate(ctx, req, ev.Err)
		}
	}
	return s.terminate(ctx, req, llm.ErrStreamTruncated)
}

// terminate ends an announced turn after a failure or stop, emitting exactly
// one end message.
func (s *Session) terminate(ctx context.Context, req GenerationRequest, cause error) error {
	log := logger.With("turn", req.TurnID, "kind", req.Kind)
	if s.stopped(ctx) {
		s.transition(eventStop)
		s.send(req, protocol.End(req.TurnID, req.SourceText, protocol.FinishCancelled, ""))
		log.Info("generation stopped")
		return nil
	}
	s.transition(eventFail)
	s.send(req, protocol.End(req.TurnID, req.SourceText, protocol.FinishError, FailureLabel))
	log.Error("generation failed", "err", cause)
	if cause == nil {
		cause = llm.ErrStreamTruncated
	}
	return &Failure{Reason: ReasonTransportError, Err: cause}
}

// restore hands a rejected continuation back to the surfaces as still
// truncated, so they offer continue again.
func (s *Session) restore(req GenerationRequest) {
	if !req.SkipStart {
		return
	}
	s.send(req, protocol.End(req.TurnID, req.SourceText, protocol.FinishLength, ""))
}

func (s *Session) send(req GenerationRequest, msg protocol.Message) {
	if err := s.cfg.Bus.Send(msg); err != nil {
		logger.Debug("lifecycle message not delivered", "turn", req.TurnID, "name", msg.Name, "err", err)
	}
}

func (s *Session) notify(ctx context.Context, n notify.Notification) {
	if err := s.cfg.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		logger.Warn("notify", "kind", n.Kind, "err", err)
	}
}

func (s *Session) notifyNoReceiver(ctx context.Context) {
	s.notify(ctx, notify.Notification{
		Kind:  notify.KindNoReceiver,
		Title: "No display surface is open",
		Body:  "Open a surface with: ghostwriter attach",
	})
}

func (s *Session) systemPrompt(ctx context.Context, triggerID string) string {
	if s.cfg.Prompts == nil {
		return DefaultSystemPrompt
	}
	prompt, err := s.cfg.Prompts.Prompt(ctx, triggerID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("read prompt template", "trigger", triggerID, "err", err)
		}
		return DefaultSystemPrompt
	}
	if strings.TrimSpace(prompt) == "" {
		return DefaultSystemPrompt
	}
	return prompt
}

// InitialRequest builds the request for a fresh activation.
func InitialRequest(activation menu.Activation, systemPrompt, turnID string) GenerationRequest {
	return GenerationRequest{
		Kind:       activation.TriggerID,
		SourceText: activation.SelectionText,
		TurnID:     turnID,
		PriorMessages: []llm.Message{
			llm.SystemMessage(systemPrompt),
			llm.UserMessage(activation.SelectionText),
		},
	}
}

// ContinuationRequest builds the request resuming turn. The turn must have
// ended at the length limit.
func ContinuationRequest(turn protocol.Turn, systemPrompt string) (GenerationRequest, error) {
	if !turn.FinishReason.Continuable() {
		return GenerationRequest{}, fmt.Errorf("%w: turn %s finished with %q", ErrNotContinuable, turn.ID, turn.FinishReason)
	}
	if turn.ID == "" {
		return GenerationRequest{}, fmt.Errorf("%w: turn has no id", ErrNotContinuable)
	}
	return GenerationRequest{
		Kind:       turn.Kind,
		SourceText: turn.SourceText,
		TurnID:     turn.ID,
		PriorMessages: []llm.Message{
			llm.SystemMessage(systemPrompt),
			llm.UserMessage(turn.SourceText),
			llm.AssistantMessage(turn.Text()),
			llm.UserMessage(ContinuePrompt),
		},
		SkipStart: true,
	}, nil
}
