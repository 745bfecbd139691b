// ABOUTME: Reader for the data-only event stream produced by Writer
// ABOUTME: Used by the CLI client and by tests to check stream well-formedness

package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformed reports a frame that does not match the wire format.
var ErrMalformed = errors.New("sse: malformed frame")

// Scanner decodes events from an event stream.
//
//	sc := sse.NewScanner(resp.Body)
//	for sc.Next() {
//	    switch ev := sc.Event().(type) {
//	    case sse.Content:
//	        fmt.Print(ev.Fragment)
//	    case sse.Error:
//	        return errors.New(ev.Message)
//	    }
//	}
//	return sc.Err()
type Scanner struct {
	reader *bufio.Reader
	event  Event
	err    error
	done   bool
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false after a terminal event,
// at end of input, or on error.
func (sc *Scanner) Next() bool {
	if sc.done || sc.err != nil {
		return false
	}

	var data []string
	for {
		line, err := sc.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				sc.err = err
				return false
			}
			if line == "" {
				if len(data) > 0 {
					return sc.emit(data)
				}
				sc.err = io.ErrUnexpectedEOF
				return false
			}
			// partial last line; the next read reports EOF again
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) == 0 {
				continue
			}
			return sc.emit(data)
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			sc.err = fmt.Errorf("%w: unexpected field %q", ErrMalformed, field)
			return false
		}
		data = append(data, strings.TrimPrefix(value, " "))
	}
}

func (sc *Scanner) emit(lines []string) bool {
	ev, err := parse(strings.Join(lines, "\n"))
	if err != nil {
		sc.err = err
		return false
	}
	sc.event = ev
	if ev.terminal() {
		sc.done = true
	}
	return true
}

func parse(data string) (Event, error) {
	if data == DoneData {
		return Done{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("%w: want exactly one key, got %d", ErrMalformed, len(raw))
	}

	var text string
	switch {
	case raw["content"] != nil:
		if err := json.Unmarshal(raw["content"], &text); err != nil {
			return nil, fmt.Errorf("%w: content: %v", ErrMalformed, err)
		}
		return Content{Fragment: text}, nil
	case raw["error"] != nil:
		if err := json.Unmarshal(raw["error"], &text); err != nil {
			return nil, fmt.Errorf("%w: error: %v", ErrMalformed, err)
		}
		return Error{Message: text}, nil
	}
	return nil, fmt.Errorf("%w: unknown payload %s", ErrMalformed, data)
}

// Event returns the event read by the last successful Next.
func (sc *Scanner) Event() Event { return sc.event }

// Err returns the first error encountered. A stream that ends without a
// terminal event yields io.ErrUnexpectedEOF.
func (sc *Scanner) Err() error {
	return sc.err
}
