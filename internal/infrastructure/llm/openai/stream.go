package openai

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

const (
	maxSSELineBytes = 1 << 20
	doneMarker      = "[DONE]"
)

var errStreamClosed = errors.New("stream closed")

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	readTimeout time.Duration
	idle        *time.Timer
	timedOut    atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once

	done       bool
	sawFinish  bool
	terminated error
}

func newSSEStream(body io.ReadCloser, readTimeout time.Duration) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	s := &sseStream{
		body:        body,
		scanner:     scanner,
		readTimeout: readTimeout,
	}
	if readTimeout > 0 {
		s.idle = time.AfterFunc(readTimeout, func() {
			s.timedOut.Store(true)
			_ = s.body.Close()
		})
	}
	return s
}

// Recv returns the next non-empty chunk. It returns io.EOF after [DONE] or
// after a clean end of body that followed a finish reason. Any other end of
// the body is reported as a transport failure.
func (s *sseStream) Recv() (domain.ChatChunk, error) {
	if s.done {
		return domain.ChatChunk{}, io.EOF
	}
	if s.terminated != nil {
		return domain.ChatChunk{}, s.terminated
	}

	for {
		s.resetIdle()
		if !s.scanner.Scan() {
			return domain.ChatChunk{}, s.finish(s.scanner.Err())
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// event:, id: and retry: fields carry nothing we use.
			continue
		}
		data = strings.TrimSpace(data)
		if data == doneMarker {
			s.markDone()
			return domain.ChatChunk{}, io.EOF
		}

		var payload chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			slog.Warn("llm_stream_chunk_malformed", "error", err, "chunk", truncate(data, 256))
			continue
		}
		if len(payload.Choices) == 0 {
			continue
		}

		choice := payload.Choices[0]
		chunk := domain.ChatChunk{Delta: choice.Delta.Content}
		if choice.FinishReason != nil {
			chunk.FinishReason = *choice.FinishReason
		}
		if chunk.FinishReason != "" {
			s.sawFinish = true
		}
		if chunk.Delta == "" && chunk.FinishReason == "" {
			continue
		}
		return chunk, nil
	}
}

func (s *sseStream) Close() error {
	s.closed.Store(true)
	var err error
	s.closeOnce.Do(func() {
		if s.idle != nil {
			s.idle.Stop()
		}
		err = s.body.Close()
	})
	return err
}

func (s *sseStream) finish(scanErr error) error {
	if scanErr == nil && s.sawFinish {
		s.markDone()
		return io.EOF
	}

	cause := scanErr
	switch {
	case s.timedOut.Load():
		cause = fmt.Errorf("no data received for %s", s.readTimeout)
	case s.closed.Load():
		cause = errStreamClosed
	case cause == nil:
		cause = io.ErrUnexpectedEOF
	}
	s.terminated = &domain.ModelError{
		Operation: "stream",
		Kind:      domain.ErrTransport,
		Err:       fmt.Errorf("stream ended before completion: %w", cause),
	}
	_ = s.Close()
	return s.terminated
}

func (s *sseStream) markDone() {
	s.done = true
	if s.idle != nil {
		s.idle.Stop()
	}
}

func (s *sseStream) resetIdle() {
	if s.idle != nil {
		s.idle.Reset(s.readTimeout)
	}
}
