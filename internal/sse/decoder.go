// Package sse decodes a Server-Sent Events stream into JSON events.
//
// Decoding is best-effort: an event whose accumulated data is not a
// JSON document is dropped and decoding resumes with the next event.
// Only a failing read on the underlying stream ends the sequence.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
)

// DefaultMaxEventSize bounds the accumulated data of a single event.
// Larger events are discarded.
const DefaultMaxEventSize = 4 << 20

const (
	dataPrefix  = "data:"
	eventPrefix = "event:"

	// lineSlack allows for the field name and padding around a data
	// value when bounding a single line.
	lineSlack = 64
)

// Event is a single decoded stream event.
type Event struct {
	// Type is the value of the event's "event:" line, if any.
	Type string

	// Data is the event's accumulated data. Always valid JSON.
	Data json.RawMessage
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used to report dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithMaxEventSize overrides DefaultMaxEventSize.
func WithMaxEventSize(n int) Option {
	return func(d *Decoder) { d.maxSize = n }
}

// Decoder reads events from an event stream. It is not safe for
// concurrent use; a single goroutine should own it.
type Decoder struct {
	r       *bufio.Reader
	logger  *slog.Logger
	maxSize int

	eventType string
	data      strings.Builder
	oversized bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:       bufio.NewReaderSize(r, 64*1024),
		maxSize: DefaultMaxEventSize,
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Next blocks until the next event with JSON data is complete and
// returns it. It returns io.EOF when the stream ends cleanly; a partial
// event pending at end of stream is discarded.
func (d *Decoder) Next() (Event, error) {
	for {
		line, overflow, err := d.readLine()
		if err != nil {
			return Event{}, err
		}
		if overflow {
			if strings.HasPrefix(line, dataPrefix) {
				d.oversized = true
				d.data.Reset()
			}
			continue
		}

		if line == "" {
			if ev, ok := d.dispatch(); ok {
				return ev, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, dataPrefix):
			d.appendData(strings.TrimSpace(line[len(dataPrefix):]))
		case strings.HasPrefix(line, eventPrefix):
			d.eventType = strings.TrimSpace(line[len(eventPrefix):])
		default:
			// Comments, id: and retry: lines carry nothing we need.
		}
	}
}

// All returns an iterator over the remaining events. Iteration stops
// silently at io.EOF; any other read error is yielded once as the
// final element.
func (d *Decoder) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// readLine returns the next line without its terminator. A line that
// would exceed the event size limit is consumed without being kept;
// overflow is reported and line holds only its first bytes.
func (d *Decoder) readLine() (line string, overflow bool, err error) {
	limit := d.maxSize + lineSlack
	var buf []byte
	for {
		chunk, rerr := d.r.ReadSlice('\n')
		if !overflow {
			if len(buf)+len(chunk) > limit {
				overflow = true
				buf = append(buf, chunk[:min(len(chunk), lineSlack)]...)
				buf = buf[:min(len(buf), lineSlack)]
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF) && (len(buf) > 0 || overflow):
			// Final line without a terminator; EOF surfaces on the next read.
		case rerr != nil:
			return "", false, rerr
		}
		return strings.TrimRight(string(buf), "\r\n"), overflow, nil
	}
}

func (d *Decoder) appendData(s string) {
	if d.oversized {
		return
	}
	if d.data.Len()+len(s) > d.maxSize {
		d.oversized = true
		d.data.Reset()
		return
	}
	d.data.WriteString(s)
}

// dispatch finalizes the pending event and resets decoder state. It
// reports false when there is nothing to deliver.
func (d *Decoder) dispatch() (Event, bool) {
	eventType := d.eventType
	data := d.data.String()
	oversized := d.oversized

	d.eventType = ""
	d.data.Reset()
	d.oversized = false

	if oversized {
		d.logger.Warn("dropping oversized stream event",
			"event", eventType,
			"max_bytes", d.maxSize,
		)
		return Event{}, false
	}
	if data == "" {
		return Event{}, false
	}
	if !json.Valid([]byte(data)) {
		d.logger.Debug("dropping stream event with non-JSON data",
			"event", eventType,
			"bytes", len(data),
		)
		return Event{}, false
	}

	return Event{Type: eventType, Data: json.RawMessage(data)}, true
}
