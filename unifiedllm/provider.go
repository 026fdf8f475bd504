package unifiedllm

import "context"

// ProviderAdapter is the interface every provider backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// Stream sends a request and returns a channel of stream events. The
	// channel is closed when the stream ends. The final event is either
	// StreamFinish carrying the assembled Response, or StreamError.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// ToolChoiceSupporter is implemented by adapters that can report tool choice support.
type ToolChoiceSupporter interface {
	SupportsToolChoice(mode string) bool
}

// emit delivers ev on ch unless ctx is done first. It reports whether the
// event was delivered; producers stop when it returns false.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
