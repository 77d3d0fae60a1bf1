package serial

import (
	"bytes"
	"errors"

	"github.com/park285/cheese-board/internal/board"
)

const (
	lineHeader  = 1
	lineTrailer = 3 // includes the newline
	// maxPending bounds the unterminated input kept between reads.
	maxPending = 16 << 10
)

var (
	errShortLine = errors.New("line shorter than framing")
	errNotASCII  = errors.New("payload is not ascii")
)

// DecodeLine strips framing from one newline-terminated line and parses the frame.
func DecodeLine(line []byte) (board.Frame, error) {
	if len(line) < lineHeader+lineTrailer {
		return board.Frame{}, errShortLine
	}
	payload := line[lineHeader : len(line)-lineTrailer]
	for _, c := range payload {
		if c > 0x7f {
			return board.Frame{}, errNotASCII
		}
	}
	return board.ParseFrame(string(payload))
}

// lineSplitter accumulates raw input and yields complete lines.
type lineSplitter struct {
	buf []byte
}

// feed appends data and calls fn for every complete line, newline included.
// It reports how many unterminated bytes were discarded because the pending
// buffer overflowed.
func (s *lineSplitter) feed(data []byte, fn func(line []byte)) (dropped int) {
	s.buf = append(s.buf, data...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		fn(s.buf[:i+1])
		s.buf = s.buf[i+1:]
	}
	if len(s.buf) > maxPending {
		dropped = len(s.buf)
		s.buf = nil
	}
	return dropped
}

func (s *lineSplitter) reset() { s.buf = nil }
