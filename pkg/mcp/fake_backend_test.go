package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

const fakeBackendEnv = "MCPCHAT_FAKE_BACKEND"

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeBackendEnv); mode != "" {
		os.Exit(runFakeBackend(mode))
	}
	goleak.VerifyTestMain(m)
}

// fakeServer returns a config that re-executes the test binary as an MCP
// server in the given mode.
func fakeServer(t *testing.T, mode string) ServerConfig {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return ServerConfig{
		Command: exe,
		Env:     map[string]string{fakeBackendEnv: mode},
	}
}

type fakeRequest struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type fakeBackend struct {
	mode     string
	out      *json.Encoder
	outMu    sync.Mutex
	pong     atomic.Bool
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

var fakeTools = []map[string]any{
	{"name": "add", "description": "Add two numbers", "inputSchema": map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}, "b": map[string]any{"type": "number"}},
		"required":   []string{"a", "b"},
	}},
	{"name": "fail", "description": "Always reports failure"},
	{"name": "rpcerr"},
	{"name": "garbage"},
	{"name": "slow"},
	{"name": "inflight"},
	{"name": "html"},
	{"name": "pong"},
	{"name": "crash"},
}

func runFakeBackend(mode string) int {
	if mode == "exit" {
		return 3
	}

	b := &fakeBackend{mode: mode, out: json.NewEncoder(os.Stdout)}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req fakeRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.Method == "" {
			if string(req.ID) == `"srv-1"` && len(req.Result) > 0 {
				b.pong.Store(true)
			}
			continue
		}
		b.handle(req)
	}
	return 0
}

func (b *fakeBackend) send(v any) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	b.out.Encode(v)
}

func (b *fakeBackend) reply(id json.RawMessage, result any) {
	b.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (b *fakeBackend) text(id json.RawMessage, text string, isError bool) {
	b.reply(id, map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": isError,
	})
}

func (b *fakeBackend) handle(req fakeRequest) {
	switch req.Method {
	case "initialize":
		if b.mode == "hang" {
			return
		}
		// Noise on stdout must be skipped by the client.
		b.outMu.Lock()
		fmt.Fprintln(os.Stdout, "starting fake backend")
		b.outMu.Unlock()
		b.reply(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "fake", "version": "1.0"},
		})
	case "notifications/initialized":
		b.send(map[string]any{"jsonrpc": "2.0", "id": "srv-1", "method": "ping"})
	case "tools/list":
		b.listTools(req)
	case "tools/call":
		b.call(req)
	}
}

func (b *fakeBackend) listTools(req fakeRequest) {
	if b.mode == "badschema" {
		b.reply(req.ID, map[string]any{"tools": []map[string]any{
			{"name": "broken", "inputSchema": map[string]any{"type": 12}},
		}})
		return
	}
	var params struct {
		Cursor string `json:"cursor"`
	}
	json.Unmarshal(req.Params, &params)
	if params.Cursor == "" {
		b.reply(req.ID, map[string]any{"tools": fakeTools[:3], "nextCursor": "page-2"})
		return
	}
	b.reply(req.ID, map[string]any{"tools": fakeTools[3:]})
}

func (b *fakeBackend) call(req fakeRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	json.Unmarshal(req.Params, &params)

	switch params.Name {
	case "add":
		var args struct{ A, B float64 }
		json.Unmarshal(params.Arguments, &args)
		b.text(req.ID, fmt.Sprint(args.A+args.B), false)
	case "fail":
		b.text(req.ID, "boom", true)
	case "rpcerr":
		b.send(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32000, "message": "nope"}})
	case "garbage":
		b.reply(req.ID, map[string]any{"content": 5})
	case "slow":
		go func() {
			time.Sleep(5 * time.Second)
			b.text(req.ID, "late", false)
		}()
	case "inflight":
		go func() {
			n := b.inflight.Add(1)
			for {
				max := b.maxSeen.Load()
				if n <= max || b.maxSeen.CompareAndSwap(max, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			b.inflight.Add(-1)
			b.text(req.ID, fmt.Sprint(b.maxSeen.Load()), false)
		}()
	case "html":
		b.reply(req.ID, map[string]any{"content": []map[string]any{{
			"type":     "resource",
			"resource": map[string]any{"uri": "file:///a.html", "mimeType": "text/html", "text": "<h1>Title</h1>"},
		}}})
	case "pong":
		b.text(req.ID, fmt.Sprint(b.pong.Load()), false)
	case "crash":
		os.Exit(1)
	default:
		b.send(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32602, "message": "unknown tool " + params.Name}})
	}
}
