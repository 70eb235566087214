package providers

import (
	"bufio"
	"context"
	"io"
	"sync"

	"ai_gateway/internal/gwerr"
)

const maxStreamLine = 1 << 20

// chunk is what a dialect-specific decoder extracts from one stream line.
type chunk struct {
	text             string
	done             bool
	promptTokens     int
	completionTokens int
}

// decodeFunc parses one line. Lines that carry nothing return a zero chunk.
type decodeFunc func(line []byte) (chunk, error)

// lineStream turns a line-oriented HTTP body (SSE or NDJSON) into a Stream.
type lineStream struct {
	route   string
	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	scanner *bufio.Scanner
	decode  decodeFunc

	// eofIsDone accepts a clean EOF as completion for dialects without an
	// explicit end marker.
	eofIsDone bool

	current          string
	err              error
	finished         bool
	promptTokens     int
	completionTokens int

	closeOnce sync.Once
}

func newLineStream(ctx context.Context, cancel context.CancelFunc, route string, body io.ReadCloser, decode decodeFunc, eofIsDone bool) *lineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxStreamLine)
	return &lineStream{
		route:     route,
		ctx:       ctx,
		cancel:    cancel,
		body:      body,
		scanner:   scanner,
		decode:    decode,
		eofIsDone: eofIsDone,
	}
}

func (s *lineStream) Next() bool {
	if s.finished || s.err != nil {
		return false
	}

	for s.scanner.Scan() {
		c, err := s.decode(s.scanner.Bytes())
		if err != nil {
			s.fail(err)
			return false
		}
		if c.promptTokens > 0 {
			s.promptTokens = c.promptTokens
		}
		if c.completionTokens > 0 {
			s.completionTokens = c.completionTokens
		}
		if c.done {
			s.finished = true
			s.release()
			if c.text != "" {
				s.current = c.text
				return true
			}
			return false
		}
		if c.text != "" {
			s.current = c.text
			return true
		}
	}

	if err := s.scanner.Err(); err != nil {
		if s.ctx.Err() != nil {
			err = s.ctx.Err()
		}
		s.fail(classifyTransportError(s.route, err))
		return false
	}
	if s.ctx.Err() != nil {
		s.fail(classifyTransportError(s.route, s.ctx.Err()))
		return false
	}
	if s.eofIsDone {
		s.finished = true
		s.release()
		return false
	}
	s.fail(gwerr.NewTransient(s.route, 0, "stream ended before completion", io.ErrUnexpectedEOF))
	return false
}

func (s *lineStream) fail(err error) {
	s.err = err
	s.release()
}

func (s *lineStream) Fragment() string { return s.current }

func (s *lineStream) Err() error { return s.err }

func (s *lineStream) Usage() (int, int) { return s.promptTokens, s.completionTokens }

// Close abandons the stream. Reading after Close reports no error.
func (s *lineStream) Close() error {
	if !s.finished && s.err == nil {
		s.finished = true
	}
	s.release()
	return nil
}

func (s *lineStream) release() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
}
