package logbuf

import (
	"strings"
	"sync"
)

// LogBuf keeps the most recent lines written to it and fans new lines out to
// subscribers. It implements io.Writer so it can sit behind a child process's
// stdout/stderr or behind the slog tee writer.
//
// Writes need not be line aligned: a trailing partial line is held until a
// later write completes it, or until Flush.
type LogBuf struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial strings.Builder
	subs    []chan string
}

// New creates a LogBuf with the given maximum line capacity.
func New(max int) *LogBuf {
	if max < 1 {
		max = 1
	}
	return &LogBuf{max: max}
}

// Write implements io.Writer.
func (lb *LogBuf) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.partial.Write(p)
	content := lb.partial.String()
	parts := strings.Split(content, "\n")
	for _, line := range parts[:len(parts)-1] {
		lb.appendLocked(strings.TrimRight(line, "\r"))
	}
	lb.partial.Reset()
	lb.partial.WriteString(parts[len(parts)-1])
	return len(p), nil
}

// Flush commits a pending partial line, if any. Called once the writer side
// (a child process) has exited.
func (lb *LogBuf) Flush() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.partial.Len() == 0 {
		return
	}
	lb.appendLocked(lb.partial.String())
	lb.partial.Reset()
}

func (lb *LogBuf) appendLocked(line string) {
	if line == "" {
		return
	}
	lb.lines = append(lb.lines, line)
	if len(lb.lines) > lb.max {
		lb.lines = lb.lines[len(lb.lines)-lb.max:]
	}
	for _, ch := range lb.subs {
		select {
		case ch <- line:
		default:
			// slow subscriber, drop
		}
	}
}

// Subscribe returns a buffered channel that receives new lines as they arrive.
func (lb *LogBuf) Subscribe() chan string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ch := make(chan string, 256)
	lb.subs = append(lb.subs, ch)
	return ch
}

// Unsubscribe removes a previously subscribed channel.
func (lb *LogBuf) Unsubscribe(ch chan string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for i, s := range lb.subs {
		if s == ch {
			lb.subs = append(lb.subs[:i], lb.subs[i+1:]...)
			return
		}
	}
}

// Lines returns a snapshot of all currently buffered lines.
func (lb *LogBuf) Lines() []string {
	return lb.Tail(0)
}

// Tail returns the last n buffered lines, oldest first. n <= 0 returns all.
func (lb *LogBuf) Tail(n int) []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	src := lb.lines
	if n > 0 && n < len(src) {
		src = src[len(src)-n:]
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}
