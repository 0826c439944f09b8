// Package runner implements the uniform "build request once, send, parse
// response, retry" harness every stateful exchange in the protocol uses
// (spec §4.7). It deliberately carries no backoff or jitter: the protocol
// mandates a flat fixed-count retry with no delay between attempts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coinstash/fileup/internal/wire"
)

// NumberOfAttempts is the fixed retry ceiling for every operation (spec §6).
const NumberOfAttempts = 4

// ErrServerRejected is raised when every attempt's parser reports failure.
var ErrServerRejected = errors.New("runner: server rejected operation")

// Sender is the minimal transport surface the runner needs.
type Sender interface {
	Send([]byte) error
	RecvExact(n int) ([]byte, error)
}

// Parser inspects a response header and, if it has enough information to
// decide, returns (value, true, nil). Returning ok=false asks the runner to
// retry; a non-nil error aborts immediately without retrying (used for
// transport-level failures the caller wants to surface as-is).
type Parser[T any] func(header wire.ResponseHeader, readPayload func(n int) ([]byte, error)) (value T, ok bool, err error)

// Do runs the retry loop: it sends the same pre-built request up to
// NumberOfAttempts times, reading one response header per attempt and
// handing it to parse. The first attempt parse accepts wins; if every
// attempt's parser returns ok=false, Do returns ErrServerRejected wrapping
// the last response's description.
func Do[T any](ctx context.Context, logger *slog.Logger, sender Sender, request []byte, parse Parser[T]) (T, error) {
	var zero T
	var lastDescription string

	for attempt := 1; attempt <= NumberOfAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		if err := sender.Send(request); err != nil {
			return zero, err
		}

		headerBytes, err := sender.RecvExact(wire.ResponseHeaderSize)
		if err != nil {
			return zero, err
		}
		header, err := wire.DecodeResponseHeader(headerBytes)
		if err != nil {
			return zero, err
		}

		readPayload := func(n int) ([]byte, error) { return sender.RecvExact(n) }

		value, ok, err := parse(header, readPayload)
		if err != nil {
			return zero, err
		}
		if ok {
			return value, nil
		}

		lastDescription = wire.Describe(header.Code)
		if logger != nil {
			logger.Warn("operation attempt rejected",
				"attempt", attempt,
				"code", header.Code,
				"description", lastDescription,
			)
		}
	}

	return zero, fmt.Errorf("%w: %s", ErrServerRejected, lastDescription)
}
