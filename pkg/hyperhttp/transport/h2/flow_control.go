package h2

import "sync"

// flowWindow tracks one side (send or receive) of one flow-controlled
// entity (a stream, or the connection as a whole), per RFC 7540 §6.9.
// Trimmed to a client's needs: it never has to honor
// SETTINGS_INITIAL_WINDOW_SIZE changes retroactively across many
// server-accepted streams the way a server implementation does, since
// the client only ever opens streams itself.
type flowWindow struct {
	mu   sync.Mutex
	size int64
	cond *sync.Cond
}

func newFlowWindow(initial int32) *flowWindow {
	fw := &flowWindow{size: int64(initial)}
	fw.cond = sync.NewCond(&fw.mu)
	return fw
}

// add increases the window (WINDOW_UPDATE received, or an initial grant).
func (fw *flowWindow) add(n int32) {
	fw.mu.Lock()
	fw.size += int64(n)
	fw.cond.Broadcast()
	fw.mu.Unlock()
}

// take blocks until at least 1 byte of window is available, then
// consumes up to want bytes (possibly fewer) and returns how many.
func (fw *flowWindow) take(want int32) int32 {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for fw.size <= 0 {
		fw.cond.Wait()
	}
	n := int64(want)
	if n > fw.size {
		n = fw.size
	}
	fw.size -= n
	return int32(n)
}

// consume decreases the window for received data, without blocking
// (used for the receive side, where the peer is the one flow-controlled).
func (fw *flowWindow) consume(n int32) {
	fw.mu.Lock()
	fw.size -= int64(n)
	fw.mu.Unlock()
}

func (fw *flowWindow) available() int64 {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.size
}
