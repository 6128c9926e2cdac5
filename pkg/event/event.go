// Package event decodes edit records from a line-delimited JSON feed into
// storage.Event values.
//
// Records are loosely typed. The three required keys (wiki, user, title)
// must be present and non-empty; every optional key is coerced with
// pkg/convert and falls back to its zero value when absent or unparseable.
//
// Recognized keys:
//   - wiki, user, title: required strings (numbers are formatted as strings)
//   - isBot or bot: boolean
//   - namespace: integer
//   - timestamp: epoch seconds or RFC 3339
//   - comment: free text, used by the revert heuristics in pkg/metrics
//
// Unknown keys are ignored.
//
// Example Usage:
//
//	dec := event.NewDecoder(os.Stdin)
//	for {
//		ev, err := dec.Next()
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		if err != nil {
//			log.Printf("skipping record: %v", err)
//			continue
//		}
//		store.ProcessEvent(ev)
//	}
package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/orneryd/wikigraph/pkg/convert"
	"github.com/orneryd/wikigraph/pkg/storage"
)

// Errors returned by the decoder.
var (
	ErrMalformed    = errors.New("malformed event record")
	ErrMissingField = errors.New("missing required field")
)

// MaxLineSize bounds a single record.
const MaxLineSize = 1024 * 1024

// Decode parses one JSON object into an Event.
func Decode(data []byte) (storage.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return storage.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return storage.Event{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	return FromRecord(raw)
}

// FromRecord converts an already decoded record.
func FromRecord(raw map[string]interface{}) (storage.Event, error) {
	var ev storage.Event
	var err error
	if ev.Wiki, err = required(raw, "wiki"); err != nil {
		return storage.Event{}, err
	}
	if ev.User, err = required(raw, "user"); err != nil {
		return storage.Event{}, err
	}
	if ev.Title, err = required(raw, "title"); err != nil {
		return storage.Event{}, err
	}

	if b, ok := convert.ToBool(first(raw, "isBot", "bot")); ok {
		ev.IsBot = b
	}
	if ns, ok := convert.ToInt(raw["namespace"]); ok {
		ev.Namespace = ns
	}
	if ts, ok := convert.ToTime(raw["timestamp"]); ok {
		ev.Timestamp = ts
	}
	if c, ok := convert.ToString(raw["comment"]); ok {
		ev.Comment = c
	}
	return ev, nil
}

func required(raw map[string]interface{}, key string) (string, error) {
	s, ok := convert.ToString(raw[key])
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return s, nil
}

func first(raw map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v
		}
	}
	return nil
}

// Decoder reads one record per line. Blank lines are skipped. A bad record,
// including one longer than MaxLineSize, is reported by Next and decoding
// continues with the following line.
type Decoder struct {
	reader *bufio.Reader
	buf    []byte
	line   int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event, or io.EOF when the input is exhausted.
// Record errors carry the 1-based line number.
func (d *Decoder) Next() (storage.Event, error) {
	for {
		raw, tooLong, err := d.readLine()
		if errors.Is(err, io.EOF) {
			return storage.Event{}, io.EOF
		}
		if err != nil {
			return storage.Event{}, fmt.Errorf("reading input: %w", err)
		}
		d.line++
		if tooLong {
			return storage.Event{}, fmt.Errorf("line %d: %w: longer than %d bytes", d.line, ErrMalformed, MaxLineSize)
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		ev, err := Decode(line)
		if err != nil {
			return storage.Event{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return ev, nil
	}
}

// readLine returns the next line including its terminator. Once a line
// exceeds MaxLineSize the rest of it is discarded up to the next newline and
// tooLong is set. The returned slice is only valid until the next call.
func (d *Decoder) readLine() (line []byte, tooLong bool, err error) {
	d.buf = d.buf[:0]
	for {
		chunk, err := d.reader.ReadSlice('\n')
		if !tooLong {
			d.buf = append(d.buf, chunk...)
			if len(bytes.TrimRight(d.buf, "\r\n")) > MaxLineSize {
				tooLong = true
				d.buf = d.buf[:0]
			}
		}
		switch {
		case err == nil:
			return d.buf, tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(d.buf) == 0 && !tooLong {
				return nil, false, io.EOF
			}
			return d.buf, tooLong, nil
		default:
			return nil, false, err
		}
	}
}

// Line returns the number of lines consumed so far.
func (d *Decoder) Line() int {
	return d.line
}
