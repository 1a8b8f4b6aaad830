package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

const (
	eventPrefix   = "data: "
	eventSentinel = "[DONE]"
)

// decodeEventStream incrementally parses a newline-delimited event stream,
// sending each non-empty content delta to out. Only "data: " frames are
// recognized; comments and keepalives pass through untouched. The "[DONE]"
// sentinel ends the stream. Malformed frames are dropped without ending the
// stream — backends have shipped framing variants across versions, and a
// garbled frame is noise, not a hard error.
func decodeEventStream(ctx context.Context, r io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, eventPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, eventPrefix)
		if strings.TrimSpace(data) == eventSentinel {
			return
		}

		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		if content := frame.Choices[0].Delta.Content; content != "" {
			select {
			case out <- content:
			case <-ctx.Done():
				return
			}
		}
	}
}
