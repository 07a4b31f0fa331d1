package utils

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// --- 1. Process Safety & Command Wrapping ---

// stderrTailLines is how many worker stderr lines we keep for crash reports.
const stderrTailLines = 50

// SafeCommand wraps a standard exec.Cmd and remembers the last lines the worker
// printed on stderr, so a crash report still has the Python traceback after the
// pipe is gone.
type SafeCommand struct {
	*exec.Cmd

	mu   sync.Mutex
	tail []string
}

// NewSafeCommand prepares the command for execution but does not start it.
// Stderr is left unset; the caller pipes it and feeds lines to RecordStderr.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	return &SafeCommand{Cmd: exec.Command(name, args...)}
}

// RecordStderr appends one stderr line to the bounded tail.
func (s *SafeCommand) RecordStderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tail = append(s.tail, line)
	if len(s.tail) > stderrTailLines {
		s.tail = s.tail[len(s.tail)-stderrTailLines:]
	}
}

// StderrTail returns the remembered stderr lines joined by newlines.
func (s *SafeCommand) StderrTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.tail, "\n")
}

// Die is the unified exit strategy for the CLI.
// It prints a formatted error box and dumps worker logs if a SafeCommand is provided.
func Die(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 MOODLINE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil {
		if tail := s.StderrTail(); tail != "" {
			fmt.Fprintf(os.Stderr, "\nWORKER LOGS:\n%s\n", tail)
		}
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	os.Exit(1)
}

// --- 2. Line Protocol Helpers ---

// LineReader yields complete '\n'-terminated lines. A trailing partial line is
// dropped at EOF, since a worker that died mid-write never finished that
// message. A line longer than the limit is skipped through its newline and
// reported as oversized, so one huge line cannot end the stream.
type LineReader struct {
	r     *bufio.Reader
	limit int
	buf   []byte
}

// NewLineReader reads lines of at most limit bytes, terminator excluded.
func NewLineReader(r io.Reader, limit int) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024), limit: limit}
}

// Next returns the next line without "\n" or "\r\n". The slice is only valid
// until the following call. When oversized is true the line was discarded and
// line is nil. err is io.EOF once the stream ends.
func (l *LineReader) Next() (line []byte, oversized bool, err error) {
	l.buf = l.buf[:0]
	for {
		chunk, err := l.r.ReadSlice('\n')
		if !oversized {
			l.buf = append(l.buf, chunk...)
			if len(bytes.TrimSuffix(l.buf, []byte{'\n'})) > l.limit {
				oversized = true
				l.buf = l.buf[:0]
			}
		}
		switch {
		case err == nil:
			if oversized {
				return nil, true, nil
			}
			line = bytes.TrimSuffix(l.buf[:len(l.buf)-1], []byte{'\r'})
			return line, false, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, false, err
		}
	}
}

// IsErrorLine reports whether a worker stderr line should reach the error log.
func IsErrorLine(line string) bool {
	return strings.Contains(strings.ToLower(line), "error")
}

// --- 3. Image Helpers ---

// ImageToDataURL reads an image file and encodes it the way the browser does
// when it captures a frame: data:<mime>;base64,<payload>.
func ImageToDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image %s is empty", path)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// IsImageFile reports whether the path has an extension the worker can decode.
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".webp":
		return true
	}
	return false
}
