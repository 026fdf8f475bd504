package unifiedllm

import (
	"context"
	"log/slog"
	"time"
)

// LogStreamMiddleware logs one debug record per model request once its stream
// ends, with provider, resolved model, duration, usage and any error.
func LogStreamMiddleware(logger *slog.Logger) StreamMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		start := time.Now()
		attrs := []any{"provider", req.Provider, "model", ResolveModel(req.Model)}

		ch, err := next(ctx, req)
		if err != nil {
			logger.Debug("model request", append(attrs, "duration", time.Since(start), "error", err)...)
			return nil, err
		}

		out := make(chan StreamEvent, cap(ch))
		go func() {
			defer close(out)
			var usage *Usage
			var streamErr error
			for ev := range ch {
				switch ev.Type {
				case StreamFinish:
					usage = ev.Usage
				case StreamError:
					streamErr = ev.Error
				}
				if !emit(ctx, out, ev) {
					logger.Debug("model request", append(attrs, "duration", time.Since(start), "error", ctx.Err())...)
					return
				}
			}

			attrs = append(attrs, "duration", time.Since(start))
			if usage != nil {
				attrs = append(attrs, "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
			}
			if streamErr != nil {
				attrs = append(attrs, "error", streamErr)
			}
			logger.Debug("model request", attrs...)
		}()
		return out, nil
	}
}
