package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// StreamMode selects how generated tokens reach the terminal.
type StreamMode string

const (
	// StreamInstant flushes every piece as it arrives.
	StreamInstant StreamMode = "instant"
	// StreamTypewriter flushes rune by rune.
	StreamTypewriter StreamMode = "typewriter"
	// StreamQuiet buffers everything until Finish.
	StreamQuiet StreamMode = "quiet"
)

// StreamWriter renders streamed pieces according to the selected mode.
type StreamWriter struct {
	mode        StreamMode
	buffer      *bufio.Writer
	accumulator strings.Builder
}

// NewStreamWriter builds a writer on stdout. Unknown modes behave as
// instant.
func NewStreamWriter(mode StreamMode) *StreamWriter {
	return &StreamWriter{
		mode:   mode,
		buffer: bufio.NewWriterSize(os.Stdout, 4096),
	}
}

// Write handles one streamed piece.
func (w *StreamWriter) Write(piece string) {
	w.accumulator.WriteString(piece)
	switch w.mode {
	case StreamQuiet:
		// buffered until Finish
	case StreamTypewriter:
		for _, r := range piece {
			fmt.Fprintf(w.buffer, "%c", r)
			_ = w.buffer.Flush()
		}
	default:
		_, _ = w.buffer.WriteString(piece)
		_ = w.buffer.Flush()
	}
}

// Finish flushes anything still buffered and returns the full text.
func (w *StreamWriter) Finish() string {
	text := w.accumulator.String()
	if w.mode == StreamQuiet {
		_, _ = w.buffer.WriteString(text)
	}
	_ = w.buffer.Flush()
	return text
}
