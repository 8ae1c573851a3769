package deepseek

import (
	"bufio"
	"io"
	"strings"
)

// sseReader yields the data payload of each Server-Sent Event. DeepSeek
// only ever sends unnamed events, so event names and ids are dropped.
type sseReader struct {
	reader *bufio.Reader
	data   string
	err    error
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at end of stream or on
// error; Err tells the two apart.
func (s *sseReader) Next() bool {
	var lines []string
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				if hasData {
					s.data = strings.Join(lines, "\n")
					s.err = io.EOF
					return true
				}
				return false
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				s.data = strings.Join(lines, "\n")
				return true
			}
			continue
		}
		// ": keep-alive" comments are sent while the model is thinking.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field == "data" {
			lines = append(lines, strings.TrimPrefix(value, " "))
			hasData = true
		}
	}
}

func (s *sseReader) Data() string { return s.data }

func (s *sseReader) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
