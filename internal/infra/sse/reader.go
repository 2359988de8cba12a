// Package sse extracts scan progress events from a line-framed
// Server-Sent-Events response body.
//
// The transport is allowed to be hostile: an intermediary may buffer the
// whole stream and flush it in one burst, interleave keep-alive comment
// lines, or truncate frames at chunk boundaries. The reader reassembles
// complete lines across chunks, parses only "data: " frames, and skips
// anything malformed or oversized, because a single bad frame must never
// abort a multi-minute scan.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ahrav/scanwatch/internal/domain/progress"
	"github.com/ahrav/scanwatch/pkg/common/logger"
)

// dataPrefix is the SSE framing prefix for meaningful lines. Everything else
// (comments, keep-alives, blank separators) is transport noise.
const dataPrefix = "data: "

// maxFrameSize bounds a single SSE line. A terminal complete event with full
// summary counts is well under 1 KiB; 1 MiB leaves room for server additions.
// Lines beyond the bound are consumed and dropped, never fatal.
const maxFrameSize = 1 << 20

// Reader yields a lazy, non-restartable sequence of scan events from a byte
// stream. It does not own reconnection policy; when the underlying stream
// fails, the error surfaces to the caller and the reader is done.
type Reader struct {
	br  *bufio.Reader
	log *logger.Logger
}

// NewReader wraps a streaming response body. The caller retains ownership of
// the underlying ReadCloser and closes it to release the connection.
func NewReader(r io.Reader, log *logger.Logger) *Reader {
	return &Reader{
		br:  bufio.NewReaderSize(r, 64*1024),
		log: log.With("component", "sse_reader"),
	}
}

// Next returns the next event on the stream. It returns io.EOF when the
// server closes the connection (the stream's only natural termination) and a
// wrapped transport error if the read fails mid-stream.
func (r *Reader) Next(ctx context.Context) (progress.ScanEvent, error) {
	for {
		line, err := r.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return progress.ScanEvent{}, io.EOF
			}
			return progress.ScanEvent{}, fmt.Errorf("reading event stream: %w", err)
		}

		frame := string(line)
		if !strings.HasPrefix(frame, dataPrefix) {
			continue
		}

		var evt progress.ScanEvent
		if err := json.Unmarshal([]byte(frame[len(dataPrefix):]), &evt); err != nil {
			// Malformed frame: skip the line, keep the session alive.
			r.log.Debug(ctx, "skipping malformed event frame", "error", err)
			continue
		}

		return evt, nil
	}
}

// readLine assembles one complete line, however the transport chunked it. A
// line exceeding maxFrameSize is consumed to its end and dropped, returning a
// nil line, so an oversized frame skips one event rather than ending the
// stream.
func (r *Reader) readLine(ctx context.Context) ([]byte, error) {
	var (
		line    []byte
		dropped bool
	)

	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 && !dropped {
				return line, nil
			}
			return nil, err
		}

		if !dropped {
			if len(line)+len(chunk) > maxFrameSize {
				dropped = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		if isPrefix {
			continue
		}

		if dropped {
			r.log.Debug(ctx, "dropping oversized event frame")
			return nil, nil
		}
		return line, nil
	}
}
