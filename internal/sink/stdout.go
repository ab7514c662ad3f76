package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// StdoutSink writes a textual debug rendering of every event. It never
// fails in normal operation; I/O errors on the underlying writer propagate
// as SinkError.
type StdoutSink struct {
	out io.Writer
}

// NewStdoutSink creates a StdoutSink writing to w.
func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{out: w}
}

func (s *StdoutSink) SendEvent(_ context.Context, ev Event) error {
	payload := renderHTTPPayload(ev.Message)
	data, err := json.Marshal(payload)
	if err != nil {
		return &SinkError{SinkKind: "stdout", SinkID: "stdout", Err: err}
	}
	if _, err := fmt.Fprintf(s.out, "%s %s\n", ev.Message.Kind(), data); err != nil {
		return &SinkError{SinkKind: "stdout", SinkID: "stdout", Err: err}
	}
	return nil
}

func (s *StdoutSink) Close() error { return nil }

var _ Sink = (*StdoutSink)(nil)
