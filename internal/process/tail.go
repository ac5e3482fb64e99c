package process

import "sync"

// Tail keeps the last n bytes written to it.
type Tail struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

// NewTail returns a Tail holding at most size bytes.
func NewTail(size int) *Tail {
	return &Tail{size: size, buf: make([]byte, 0, size)}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if n >= t.size {
		t.buf = append(t.buf[:0], p[n-t.size:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.size; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
