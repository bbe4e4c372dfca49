package mpv

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
)

// fakeMPV is an in-process stand-in for mpv's IPC server: a unix
// socket speaking the same JSON-lines protocol, backed by a mutable
// property map.
type fakeMPV struct {
	t    *testing.T
	ln   net.Listener
	path string

	mu         sync.Mutex
	props      map[string]any
	cmds       [][]any
	conns      []net.Conn
	hangUps    int  // connections to drop after reading one request
	noisy      bool // emit an async event line before each reply
	closedOnce sync.Once
}

func newFakeMPV(t *testing.T) *fakeMPV {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen %s: %v", path, err)
	}
	f := &fakeMPV{t: t, ln: ln, path: path, props: map[string]any{}}
	go f.serve()
	t.Cleanup(f.close)
	return f
}

// close tears down the listener and every accepted connection, as an
// exited mpv would.
func (f *fakeMPV) close() {
	f.closedOnce.Do(func() {
		f.ln.Close()
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, c := range f.conns {
			c.Close()
		}
	})
}

func (f *fakeMPV) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		go f.handle(conn)
	}
}

func (f *fakeMPV) handle(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var req struct {
			Command []any `json:"command"`
		}
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil || len(req.Command) == 0 {
			continue
		}

		f.mu.Lock()
		if f.hangUps > 0 {
			f.hangUps--
			f.mu.Unlock()
			return // drop the connection without replying
		}
		f.cmds = append(f.cmds, req.Command)
		noisy := f.noisy
		reply := f.replyLocked(req.Command)
		f.mu.Unlock()

		if noisy {
			conn.Write([]byte("{\"event\":\"playback-restart\"}\n"))
		}
		out, _ := json.Marshal(reply)
		conn.Write(append(out, '\n'))
	}
}

func (f *fakeMPV) replyLocked(cmd []any) map[string]any {
	name, _ := cmd[0].(string)
	switch name {
	case "get_property":
		prop, _ := cmd[1].(string)
		v, ok := f.props[prop]
		if !ok {
			return map[string]any{"error": "property unavailable"}
		}
		return map[string]any{"error": "success", "data": v}
	case "set_property":
		prop, _ := cmd[1].(string)
		f.props[prop] = cmd[2]
		return map[string]any{"error": "success"}
	default:
		return map[string]any{"error": "success"}
	}
}

func (f *fakeMPV) set(name string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[name] = v
}

func (f *fakeMPV) hangUpOnce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangUps++
}

func (f *fakeMPV) commands() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]any, len(f.cmds))
	copy(out, f.cmds)
	return out
}

// commandNames flattens the recorded commands to their first element.
func (f *fakeMPV) commandNames() []string {
	var names []string
	for _, c := range f.commands() {
		if s, ok := c[0].(string); ok {
			names = append(names, s)
		}
	}
	return names
}
