package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"mercator-hq/hermes/pkg/telemetry/metrics"
)

// ssePrefix starts every data line of an SSE event.
var ssePrefix = []byte("data:")

// sseDelimiter terminates an SSE event.
var sseDelimiter = []byte("\n\n")

// doneMarker is the literal payload of the final SSE event.
const doneMarker = "[DONE]"

// StreamRewriter relays an SSE completion stream to the client.
//
// Forwarding is byte-identical: every byte read from the upstream is
// written to the client in order, with no added, removed, or reordered
// bytes. The rewriter additionally buffers a copy of the stream just far
// enough to locate event boundaries and parses each event payload for
// observation only: finish reasons and the optional usage object feed
// metrics, never the forwarded bytes.
type StreamRewriter struct {
	collector *metrics.Collector
	llmName   string

	carry         []byte
	finishReasons map[int]string
	usage         *metrics.Usage
	parseErrors   int
}

// NewStreamRewriter creates a rewriter recording against the named LLM.
func NewStreamRewriter(collector *metrics.Collector, llmName string) *StreamRewriter {
	return &StreamRewriter{
		collector:     collector,
		llmName:       llmName,
		finishReasons: make(map[int]string),
	}
}

// chunkPayload is the slice of a chat.completion.chunk frame the
// rewriter observes.
type chunkPayload struct {
	Choices []struct {
		Index        int     `json:"index"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *metrics.Usage `json:"usage"`
}

// Copy relays src to dst until EOF, flushing after every read so events
// reach the client as they arrive. It returns the byte count written and
// the first error encountered on either side.
func (s *StreamRewriter) Copy(dst io.Writer, src io.Reader) (int64, error) {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, 32*1024)
	var written int64

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if flusher != nil {
				flusher.Flush()
			}
			s.observe(buf[:n])
			if writeErr != nil {
				return written, writeErr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			s.flushCarry()
			return written, nil
		}
		if readErr != nil {
			s.flushCarry()
			return written, readErr
		}
	}
}

// observe appends a forwarded chunk to the carry buffer and consumes
// every complete event in it.
func (s *StreamRewriter) observe(chunk []byte) {
	s.carry = append(s.carry, chunk...)
	for {
		idx := bytes.Index(s.carry, sseDelimiter)
		if idx < 0 {
			return
		}
		event := s.carry[:idx]
		s.carry = s.carry[idx+len(sseDelimiter):]
		s.observeEvent(event)
	}
}

// flushCarry observes a trailing event that arrived without its final
// delimiter (streams cut off mid-event still count their last frame).
func (s *StreamRewriter) flushCarry() {
	if len(bytes.TrimSpace(s.carry)) > 0 {
		s.observeEvent(s.carry)
	}
	s.carry = nil
}

// observeEvent parses one SSE event payload for metrics. Parse failures
// are counted and logged; the bytes were already forwarded either way.
func (s *StreamRewriter) observeEvent(event []byte) {
	payload := bytes.TrimSpace(event)
	if after, ok := bytes.CutPrefix(payload, ssePrefix); ok {
		payload = bytes.TrimSpace(after)
	}
	if len(payload) == 0 || string(payload) == doneMarker {
		return
	}

	var chunk chunkPayload
	if err := json.Unmarshal(payload, &chunk); err != nil {
		s.parseErrors++
		s.collector.IncFailure(metrics.ErrorTypeOther)
		slog.Warn("failed to parse stream chunk",
			"llm", s.llmName,
			"error", err,
		)
		return
	}

	for _, choice := range chunk.Choices {
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.finishReasons[choice.Index] = *choice.FinishReason
		}
	}
	if chunk.Usage != nil {
		s.usage = chunk.Usage
	}
}

// Finish records the captured usage object, if any, into the token
// usage counters. Call once after the stream completes.
func (s *StreamRewriter) Finish() {
	if s.usage != nil {
		s.collector.RecordUsage(s.llmName, s.usage)
		slog.Debug("stream usage recorded",
			"llm", s.llmName,
			"prompt_tokens", s.usage.PromptTokens,
			"completion_tokens", s.usage.CompletionTokens,
			"total_tokens", s.usage.TotalTokens,
		)
	}
}

// FinishReason returns the finish reason captured for choice index 0.
func (s *StreamRewriter) FinishReason() string {
	return s.finishReasons[0]
}

// Usage returns the captured usage object, nil when none was emitted.
func (s *StreamRewriter) Usage() *metrics.Usage {
	return s.usage
}

// ParseErrors returns how many event payloads failed to parse.
func (s *StreamRewriter) ParseErrors() int {
	return s.parseErrors
}
