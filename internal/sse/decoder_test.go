package sse

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func collect(t *testing.T, stream string) []Event {
	t.Helper()
	var events []Event
	for ev, err := range NewDecoder(strings.NewReader(stream)).All() {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestDecoder_SingleEvent(t *testing.T) {
	events := collect(t, "event: endpoint\ndata: {\"url\":\"/messages?id=42\"}\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "endpoint", events[0].Type)
	assert.JSONEq(t, `{"url":"/messages?id=42"}`, string(events[0].Data))
}

func TestDecoder_MultipleDataLinesConcatenate(t *testing.T) {
	events := collect(t, "data: {\"id\":2,\ndata:   \"result\":{}}\n\n")

	require.Len(t, events, 1)
	assert.JSONEq(t, `{"id":2,"result":{}}`, string(events[0].Data))
}

func TestDecoder_SkipsMalformedAndResumes(t *testing.T) {
	stream := strings.Join([]string{
		"data: {\"id\":1}",
		"",
		"data: {not json",
		"",
		"event: message",
		"data: {\"id\":3}",
		"",
		"",
	}, "\n")

	events := collect(t, stream)

	require.Len(t, events, 2)
	assert.JSONEq(t, `{"id":1}`, string(events[0].Data))
	assert.JSONEq(t, `{"id":3}`, string(events[1].Data))
	assert.Equal(t, "message", events[1].Type)
}

func TestDecoder_UnterminatedTrailingEventDropped(t *testing.T) {
	// Only a blank line completes an event.
	events := collect(t, "data: {\"id\":1}\n\ndata: {\"id\":3}\n")

	require.Len(t, events, 1)
	assert.JSONEq(t, `{"id":1}`, string(events[0].Data))

	events = collect(t, "data: {\"id\":1}\n\ndata: {\"id\":3}")
	require.Len(t, events, 1)
}

func TestDecoder_IgnoresCommentsAndUnknownFields(t *testing.T) {
	stream := ": keepalive\nid: 7\nretry: 1000\ndata: {\"ok\":true}\n\n"

	events := collect(t, stream)

	require.Len(t, events, 1)
	assert.Empty(t, events[0].Type)
	assert.JSONEq(t, `{"ok":true}`, string(events[0].Data))
}

func TestDecoder_CRLFLineEndings(t *testing.T) {
	events := collect(t, "event: endpoint\r\ndata: {\"url\":\"x\"}\r\n\r\n")

	require.Len(t, events, 1)
	assert.Equal(t, "endpoint", events[0].Type)
}

func TestDecoder_EventTypeDoesNotLeak(t *testing.T) {
	stream := "event: endpoint\ndata: {\"url\":\"x\"}\n\ndata: {\"id\":1}\n\n"

	events := collect(t, stream)

	require.Len(t, events, 2)
	assert.Equal(t, "endpoint", events[0].Type)
	assert.Empty(t, events[1].Type)
}

func TestDecoder_BlankLinesWithoutData(t *testing.T) {
	events := collect(t, "\n\n\nevent: ping\n\n\n")
	assert.Empty(t, events)
}

func TestDecoder_PartialEventAtEOFDropped(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: {\"id\":1}\n\ndata: {\"id\":2}"))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(ev.Data))

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_OversizedEventDropped(t *testing.T) {
	big := `{"pad":"` + strings.Repeat("x", 64) + `"}`
	stream := "data: " + big + "\n\ndata: {\"id\":2}\n\n"

	var events []Event
	for ev, err := range NewDecoder(strings.NewReader(stream), WithMaxEventSize(32)).All() {
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.JSONEq(t, `{"id":2}`, string(events[0].Data))
}

func TestDecoder_HugeLineNotBuffered(t *testing.T) {
	huge := strings.Repeat("x", 256*1024)
	stream := "data: {\"pad\":\"" + huge + "\"}\n\n" +
		": " + huge + "\n" +
		"data: {\"id\":2}\n\n"

	d := NewDecoder(strings.NewReader(stream), WithMaxEventSize(1024))
	ev, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":2}`, string(ev.Data))

	line, overflow, err := NewDecoder(strings.NewReader("data: "+huge+"\n"), WithMaxEventSize(1024)).readLine()
	require.NoError(t, err)
	assert.True(t, overflow)
	assert.LessOrEqual(t, len(line), lineSlack)
	assert.True(t, strings.HasPrefix(line, dataPrefix))

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

type brokenReader struct{ data io.Reader }

func (b *brokenReader) Read(p []byte) (int, error) {
	n, err := b.data.Read(p)
	if errors.Is(err, io.EOF) {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func TestDecoder_ReadErrorSurfaces(t *testing.T) {
	d := NewDecoder(&brokenReader{data: strings.NewReader("data: {\"id\":1}\n\n")})

	var got []Event
	var lastErr error
	for ev, err := range d.All() {
		if err != nil {
			lastErr = err
			break
		}
		got = append(got, ev)
	}

	assert.Len(t, got, 1)
	assert.ErrorIs(t, lastErr, io.ErrUnexpectedEOF)
}

func TestDecoder_AllStopsEarly(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: 1\n\ndata: 2\n\ndata: 3\n\n"))

	for ev, err := range d.All() {
		require.NoError(t, err)
		assert.Equal(t, "1", string(ev.Data))
		break
	}

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "2", string(ev.Data))
}

// TestDecoder_Property_OneObjectPerWellFormedBlock checks that for any
// mix of well-formed and malformed blocks, exactly the well-formed ones
// are yielded, in order, regardless of how their data is split across
// data lines.
func TestDecoder_Property_OneObjectPerWellFormedBlock(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "blocks")

		var stream strings.Builder
		var want []string
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "wellFormed") {
				obj := rapid.MapOf(
					rapid.StringMatching(`[a-z]{1,6}`),
					rapid.IntRange(-1000, 1000),
				).Draw(t, "object")
				raw, err := json.Marshal(obj)
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
				payload := string(raw)
				want = append(want, payload)

				split := rapid.IntRange(0, len(payload)).Draw(t, "split")
				if rapid.Bool().Draw(t, "withType") {
					stream.WriteString("event: message\n")
				}
				stream.WriteString("data: " + payload[:split] + "\n")
				if split < len(payload) {
					stream.WriteString("data: " + payload[split:] + "\n")
				}
			} else {
				junk := rapid.StringMatching(`x[a-z ]{0,10}`).Draw(t, "junk")
				stream.WriteString("data: " + junk + "\n")
			}
			stream.WriteString("\n")
		}

		var got []string
		for ev, err := range NewDecoder(strings.NewReader(stream.String())).All() {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got = append(got, string(ev.Data))
		}

		if len(got) != len(want) {
			t.Fatalf("got %d events, want %d\nstream:\n%s", len(got), len(want), stream.String())
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("event %d = %q, want %q", i, got[i], want[i])
			}
		}
	})
}
