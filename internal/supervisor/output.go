package supervisor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// cappedBuffer keeps the first limit bytes written to it and counts the rest.
type cappedBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	switch {
	case room <= 0:
		b.dropped += int64(len(p))
	case len(p) > room:
		b.buf.Write(p[:room])
		b.dropped += int64(len(p) - room)
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped > 0
}

// sink tees process output into a session file and a capped buffer. File
// write errors are remembered but never stop the process.
type sink struct {
	file io.Writer
	mem  *cappedBuffer

	mu      sync.Mutex
	fileErr error
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.fileErr == nil && s.file != nil {
		if _, err := s.file.Write(p); err != nil {
			s.fileErr = err
		}
	}
	s.mu.Unlock()
	return s.mem.Write(p)
}

// envelope is the result object printed by agent CLIs in JSON output mode.
type envelope struct {
	Type    string  `json:"type"`
	Subtype string  `json:"subtype,omitempty"`
	Result  *string `json:"result"`
	IsError bool    `json:"is_error"`
}

// unwrapEnvelope extracts the result text from a JSON result envelope. It
// accepts a single object or a JSON-lines stream whose last result line wins.
// Anything else is reported as not an envelope and used verbatim by callers.
func unwrapEnvelope(raw []byte) (text string, isError, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false, false
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err == nil {
		if env.Type == "result" && env.Result != nil {
			return *env.Result, env.IsError, true
		}
		return "", false, false
	}

	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), len(trimmed)+1)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e envelope
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.Type == "result" && e.Result != nil {
			text, isError, ok = *e.Result, e.IsError, true
		}
	}
	return text, isError, ok
}
