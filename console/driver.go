package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/sragss/echogent/agentloop"
)

// Turner runs one user turn. *agentloop.Session satisfies it.
type Turner interface {
	RunTurn(ctx context.Context, userInput string) (agentloop.TurnResult, error)
	HasStreamed() bool
}

// Driver reads requests line by line and runs a turn for each.
type Driver struct {
	session  Turner
	in       io.Reader
	renderer *Renderer
	logger   *slog.Logger
}

// NewDriver creates a driver reading from in and rendering through r.
func NewDriver(session Turner, in io.Reader, r *Renderer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{session: session, in: in, renderer: r, logger: logger}
}

// Run loops until input ends or ctx is cancelled, both of which return nil.
// A non-retryable transport failure before the model has produced any output
// is returned as fatal; any other turn failure is reported and the loop
// continues.
func (d *Driver) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(d.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		d.renderer.Prompt()

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						d.logger.Warn("read input", "error", err)
					}
				default:
				}
				return nil
			}
			line = l
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		_, err := d.session.RunTurn(ctx, input)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if fatal(err, d.session.HasStreamed()) {
			return err
		}
		d.logger.Debug("turn failed", "error", err)
		d.renderer.Error(err)
	}
}

func fatal(err error, streamed bool) bool {
	var te *agentloop.TransportError
	if !errors.As(err, &te) {
		return false
	}
	return !streamed && !te.Retryable()
}
