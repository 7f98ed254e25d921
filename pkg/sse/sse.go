// Package sse implements a generic Server-Sent-Events line scanner used
// by pkg/backend/openai, which decodes its own wire-specific JSON shape
// from the raw payloads this package hands back. pkg/backend/ollama does
// not use it; its stream is decoded line by line.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Scan reads r as an SSE byte stream, joining multi-line "data:" fields
// into one logical event payload per blank-line-terminated block, and
// calls emit with each event's raw data. Comment lines (leading ":") and
// the "[DONE]" sentinel are skipped without being passed to emit.
func Scan(r io.Reader, emit func(data string) error) error {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)

	var dataLines []string
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		joined := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		if strings.TrimSpace(joined) == "" || strings.TrimSpace(joined) == "[DONE]" {
			return nil
		}
		return emit(joined)
	}

	for s.Scan() {
		line := s.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	return flush()
}
