package llm

import (
	"bufio"
	"io"
	"strings"
)

// serverSentEventScanner reads the data lines of a Server-Sent Events stream.
type serverSentEventScanner struct {
	scanner *bufio.Scanner
	data    string
}

// newServerSentEventScanner creates a new SSE scanner.
func newServerSentEventScanner(r io.Reader) *serverSentEventScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &serverSentEventScanner{scanner: sc}
}

// Scan advances to the next "data:" line, skipping comments, event names and
// blank separators. It returns false at end of stream or on "[DONE]".
func (s *serverSentEventScanner) Scan() bool {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return false
		}
		s.data = data
		return true
	}
	return false
}

// Data returns the payload of the last scanned data line.
func (s *serverSentEventScanner) Data() string {
	return s.data
}

// Err returns the first non-EOF read error.
func (s *serverSentEventScanner) Err() error {
	return s.scanner.Err()
}
