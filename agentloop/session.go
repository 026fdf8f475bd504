package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sragss/echogent/unifiedllm"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateClosed     SessionState = "closed"
)

// Streamer opens a streamed model response. *unifiedllm.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error)
}

// Recorder persists transcript entries as they are appended. seq is the
// entry's zero-based position in the transcript.
type Recorder interface {
	Record(ctx context.Context, sessionID string, seq int, msg Message) error
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	Model    string `json:"model"`
	Provider string `json:"provider,omitempty"`
	// MaxSteps caps model round-trips per user turn.
	MaxSteps  int `json:"max_steps"`
	MaxTokens int `json:"max_tokens"`
	// SystemPrompt overrides the generated prompt when non-empty.
	SystemPrompt string `json:"system_prompt,omitempty"`
	// UserInstructions are appended last to the system prompt.
	UserInstructions    string                 `json:"user_instructions,omitempty"`
	Truncation          TruncationLimits       `json:"-"`
	LoopDetectionWindow int                    `json:"loop_detection_window"` // 0 = off
	Retry               unifiedllm.RetryPolicy `json:"-"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:     unifiedllm.DefaultModel,
		MaxSteps:  15,
		MaxTokens: 4096,
		Retry:     unifiedllm.DefaultRetryPolicy(),
	}
}

// TurnResult summarizes one call to RunTurn.
type TurnResult struct {
	Steps        int
	LimitReached bool
	// CharDelta is the JSON length of the messages the turn added after the
	// user's input.
	CharDelta  int
	Usage      unifiedllm.Usage
	Transcript []Message
}

// TransportError reports a failed model exchange. The transcript keeps
// everything appended before the failure and no partial assistant message.
type TransportError struct {
	Step int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model request failed at step %d: %v", e.Step, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the underlying error is transient.
func (e *TransportError) Retryable() bool {
	return unifiedllm.IsRetryable(e.Err)
}

// Session is the central orchestrator for the agentic loop.
type Session struct {
	id           string
	client       Streamer
	registry     *ToolRegistry
	env          Environment
	config       SessionConfig
	transcript   []Message
	emitter      *EventEmitter
	logger       *slog.Logger
	recorder     Recorder
	state        SessionState
	streamed     bool
	systemPrompt string
	mu           sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithConfig replaces the default configuration. Zero MaxSteps and
// MaxTokens fall back to the defaults.
func WithConfig(cfg SessionConfig) Option {
	return func(s *Session) {
		def := DefaultSessionConfig()
		if cfg.MaxSteps <= 0 {
			cfg.MaxSteps = def.MaxSteps
		}
		if cfg.MaxTokens <= 0 {
			cfg.MaxTokens = def.MaxTokens
		}
		if cfg.Model == "" {
			cfg.Model = def.Model
		}
		s.config = cfg
	}
}

// WithSink subscribes an event sink.
func WithSink(sink EventSink) Option {
	return func(s *Session) { s.emitter.Subscribe(sink) }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithRecorder persists every transcript entry.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(s *Session) {
		s.id = id
		s.emitter.sessionID = id
	}
}

// WithTranscript seeds the conversation with a previously recorded
// transcript, for resuming a session. New entries are recorded after it.
func WithTranscript(msgs []Message) Option {
	return func(s *Session) {
		s.transcript = append(s.transcript[:0], msgs...)
	}
}

// NewSession creates a session that streams from client and executes tools
// from registry against env.
func NewSession(client Streamer, registry *ToolRegistry, env Environment, opts ...Option) *Session {
	sessionID := uuid.New().String()
	s := &Session{
		id:         sessionID,
		client:     client,
		registry:   registry,
		env:        env,
		config:     DefaultSessionConfig(),
		transcript: make([]Message, 0),
		emitter:    NewEventEmitter(sessionID),
		logger:     slog.Default(),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.emitter.Emit(EventSessionStart, map[string]interface{}{
		"model": s.config.Model,
		"tools": registry.Names(),
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration.
func (s *Session) Config() SessionConfig { return s.config }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// HasStreamed reports whether any model output has been received.
func (s *Session) HasStreamed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamed
}

// Close ends the session. Later RunTurn calls fail.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]interface{}{
		"messages": len(s.Transcript()),
	})
	s.emitter.Close()
}

// RunTurn appends the user's input and alternates model steps with tool
// execution until the model answers without tool calls or MaxSteps model
// calls have been made. A transport failure ends the turn with a
// *TransportError; the transcript keeps everything before it.
func (s *Session) RunTurn(ctx context.Context, userInput string) (TurnResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return TurnResult{}, fmt.Errorf("session is closed")
	case StateProcessing:
		s.mu.Unlock()
		return TurnResult{}, fmt.Errorf("turn already in progress")
	}
	s.state = StateProcessing
	start := len(s.transcript)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateProcessing {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()

	s.append(ctx, NewUserMessage(userInput))
	s.emitter.Emit(EventUserInput, map[string]interface{}{"content": userInput})

	var (
		result  TurnResult
		turnErr error
	)
	for {
		if result.Steps >= s.config.MaxSteps {
			result.LimitReached = true
			s.logger.Info("step limit reached", "session", s.id, "steps", result.Steps)
			s.emitter.Emit(EventTurnLimit, map[string]interface{}{
				"steps":     result.Steps,
				"max_steps": s.config.MaxSteps,
			})
			break
		}
		if err := ctx.Err(); err != nil {
			turnErr = &TransportError{Step: result.Steps + 1, Err: &unifiedllm.AbortError{SDKError: unifiedllm.SDKError{Message: "turn cancelled", Cause: err}}}
			break
		}

		resp, err := s.step(ctx)
		if err != nil {
			turnErr = &TransportError{Step: result.Steps + 1, Err: err}
			s.logger.Warn("model request failed", "session", s.id, "step", result.Steps+1, "error", err)
			s.emitter.Emit(EventError, map[string]interface{}{
				"error":     err.Error(),
				"retryable": unifiedllm.IsRetryable(err),
			})
			break
		}

		assistant := NewAssistantMessage(resp)
		s.append(ctx, assistant)
		result.Usage = result.Usage.Add(resp.Usage)
		calls := assistant.Assistant.ToolCalls
		s.emitter.Emit(EventStepEnd, map[string]interface{}{
			"step":          result.Steps + 1,
			"tool_calls":    len(calls),
			"finish_reason": resp.FinishReason.Reason,
		})
		s.checkContextUsage(resp.Usage)

		if len(calls) == 0 {
			break
		}

		result.Steps++
		for _, call := range calls {
			s.executeToolCall(ctx, call)
		}
		s.checkLoop()
	}

	transcript := s.Transcript()
	result.Transcript = transcript
	if start+1 <= len(transcript) {
		result.CharDelta = CharCount(transcript[start+1:])
	}
	data := map[string]interface{}{
		"steps":         result.Steps,
		"limit_reached": result.LimitReached,
		"char_delta":    result.CharDelta,
		"usage":         result.Usage,
	}
	if cost, ok := unifiedllm.EstimateCost(s.config.Model, result.Usage); ok && result.Usage.TotalTokens > 0 {
		data["cost_usd"] = cost
	}
	s.emitter.Emit(EventTurnEnd, data)
	return result, turnErr
}

// step performs one streamed model call and returns the completed response.
func (s *Session) step(ctx context.Context) (*unifiedllm.Response, error) {
	req := s.buildRequest(ctx)

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	retry := s.config.Retry
	retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		s.logger.Warn("retrying model request", "attempt", attempt, "delay", delay, "error", err)
	}
	events, err := unifiedllm.Retry(stepCtx, retry, func(ctx context.Context) (<-chan unifiedllm.StreamEvent, error) {
		return s.client.Stream(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	acc := unifiedllm.NewStreamAccumulator()
	for ev := range events {
		acc.Process(ev)
		switch ev.Type {
		case unifiedllm.TextDelta:
			if ev.Delta == "" {
				continue
			}
			s.markStreamed()
			s.emitter.Emit(EventAssistantTextDelta, map[string]interface{}{"delta": ev.Delta})
		case unifiedllm.StreamError:
			cancel()
		}
	}

	if err := acc.Err(); err != nil {
		return nil, err
	}
	if !acc.Finished() {
		if err := ctx.Err(); err != nil {
			return nil, &unifiedllm.AbortError{SDKError: unifiedllm.SDKError{Message: "stream cancelled", Cause: err}}
		}
		return nil, &unifiedllm.StreamErrorType{SDKError: unifiedllm.SDKError{Message: "stream ended without a finish event"}}
	}

	resp := acc.Response()
	s.markStreamed()
	s.emitter.Emit(EventAssistantTextEnd, map[string]interface{}{
		"text":      resp.Text(),
		"reasoning": resp.Reasoning(),
	})
	return resp, nil
}

func (s *Session) buildRequest(ctx context.Context) unifiedllm.Request {
	s.mu.Lock()
	if s.systemPrompt == "" {
		prompt := s.config.SystemPrompt
		if prompt == "" {
			prompt = BuildSystemPrompt(ctx, s.env, s.config.Model, s.config.Provider)
		}
		if s.config.UserInstructions != "" {
			prompt += "\n\n# User Instructions\n\n" + s.config.UserInstructions
		}
		s.systemPrompt = prompt
	}
	messages := append([]unifiedllm.Message{unifiedllm.SystemMessage(s.systemPrompt)}, ToLLMMessages(s.transcript)...)
	s.mu.Unlock()

	maxTokens := s.config.MaxTokens
	req := unifiedllm.Request{
		Model:     s.config.Model,
		Provider:  s.config.Provider,
		Messages:  messages,
		ToolDefs:  s.registry.Definitions(),
		MaxTokens: &maxTokens,
	}
	if len(req.ToolDefs) > 0 {
		req.ToolChoice = &unifiedllm.ToolChoice{Mode: "auto"}
	}
	return req
}

// executeToolCall runs one call and appends exactly one tool result for it.
func (s *Session) executeToolCall(ctx context.Context, call unifiedllm.ToolCall) {
	s.emitter.Emit(EventToolCallStart, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"input":     string(call.Arguments),
	})

	outcome := s.registry.Invoke(ctx, s.env, call)
	content := outcome.Content()
	if s.config.Truncation.Enabled() {
		content = TruncateToolOutput(content, call.Name, s.config.Truncation)
	}
	s.append(ctx, NewToolResultMessage(call.ID, call.Name, content, outcome.IsError()))

	if outcome.IsError() {
		s.logger.Debug("tool failed", "tool", call.Name, "kind", outcome.Err.Kind, "error", outcome.Err.Message)
	}
	s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"output":    outcome.Payload(),
		"is_error":  outcome.IsError(),
		"trace":     outcome.Trace(),
	})
}

func (s *Session) append(ctx context.Context, msg Message) {
	s.mu.Lock()
	seq := len(s.transcript)
	s.transcript = append(s.transcript, msg)
	s.mu.Unlock()

	if s.recorder == nil {
		return
	}
	// Persisting must outlive a cancelled turn.
	if err := s.recorder.Record(context.WithoutCancel(ctx), s.id, seq, msg); err != nil {
		s.logger.Warn("failed to record transcript entry", "session", s.id, "seq", seq, "error", err)
	}
}

func (s *Session) markStreamed() {
	s.mu.Lock()
	s.streamed = true
	s.mu.Unlock()
}

func (s *Session) checkLoop() {
	window := s.config.LoopDetectionWindow
	if window <= 0 {
		return
	}
	if n := DetectLoop(s.Transcript(), window); n > 0 {
		msg := fmt.Sprintf("Loop detected: the last %d tool calls repeat a pattern of length %d.", window, n)
		s.logger.Info(msg, "session", s.id)
		s.emitter.Emit(EventLoopDetection, map[string]interface{}{"message": msg, "pattern_length": n})
	}
}

// checkContextUsage emits a warning once the prompt passes 80% of the
// model's context window. Reported input tokens are preferred; otherwise
// the transcript size is estimated at four characters per token.
func (s *Session) checkContextUsage(usage unifiedllm.Usage) {
	info := unifiedllm.GetModelInfo(s.config.Model)
	if info == nil || info.ContextWindow <= 0 {
		return
	}
	tokens := usage.InputTokens
	if tokens == 0 {
		tokens = CharCount(s.Transcript()) / 4
	}
	if tokens > info.ContextWindow*8/10 {
		pct := tokens * 100 / info.ContextWindow
		s.emitter.Emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("Context usage at ~%d%% of context window", pct),
		})
	}
}

// IsTransportError reports whether err came from the model exchange.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
