package runner

// tailWriter retains only the last limit bytes written to it, so a
// pathologically chatty child process cannot grow memory without bound.
type tailWriter struct {
	limit     int
	buf       []byte
	truncated bool
}

func newTailWriter(limit int) *tailWriter {
	if limit <= 0 {
		limit = 64 * 1024
	}
	return &tailWriter{limit: limit}
}

// Write appends p, discarding the oldest bytes beyond the limit.
func (w *tailWriter) Write(p []byte) (int, error) {
	if len(p) >= w.limit {
		if len(w.buf) > 0 || len(p) > w.limit {
			w.truncated = true
		}
		w.buf = append(w.buf[:0], p[len(p)-w.limit:]...)
		return len(p), nil
	}

	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		trim := len(w.buf) - w.limit
		w.buf = append(w.buf[:0], w.buf[trim:]...)
		w.truncated = true
	}
	return len(p), nil
}

// String returns the retained tail, prefixed with a marker when truncated.
func (w *tailWriter) String() string {
	if w.truncated {
		return "...(truncated)..." + string(w.buf)
	}
	return string(w.buf)
}
