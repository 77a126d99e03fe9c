package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/mkorolik/relayexec/internal/queue"
	"github.com/mkorolik/relayexec/internal/rpc"
)

// wireRequest is what the fake endpoint decodes off a frame.
type wireRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// execHandler maps a command string to (stdout, stderr, returncode) or
// a server-level error message.
type execHandler func(command string) (string, string, int, string)

// fakeEndpoint speaks the framed JSON protocol over in-memory pipes.
type fakeEndpoint struct {
	mu      sync.Mutex
	execs   []string
	handler execHandler
}

func (f *fakeEndpoint) dial(context.Context) (net.Conn, error) {
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

func (f *fakeEndpoint) serve(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		header, err := br.ReadString('\n')
		if err != nil {
			return
		}
		size, err := strconv.Atoi(header[:len(header)-1])
		if err != nil || size <= 0 {
			return
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(br, frame); err != nil {
			return
		}
		var req wireRequest
		if err := json.Unmarshal(inflate(frame), &req); err != nil {
			return
		}

		body := f.respond(&req)
		if _, err := fmt.Fprintf(conn, "%d\n", len(body)); err != nil {
			return
		}
		if _, err := conn.Write(body); err != nil {
			return
		}
	}
}

func (f *fakeEndpoint) respond(req *wireRequest) []byte {
	command := ""
	if args, ok := req.Params["arguments"].(map[string]any); ok {
		command, _ = args["command"].(string)
	}
	f.mu.Lock()
	if req.Method == "tools/call" {
		f.execs = append(f.execs, command)
	}
	f.mu.Unlock()

	stdout, stderr, rc, serverErr := f.handler(command)
	if serverErr != "" {
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32000,"message":%q}}`, req.ID, serverErr))
	}
	inner, _ := json.Marshal(map[string]any{"stdout": stdout, "stderr": stderr, "returncode": rc})
	result := map[string]any{"content": []map[string]any{{"type": "text", "text": string(inner)}}}
	out, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	return out
}

func (f *fakeEndpoint) execCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.execs)
}

func inflate(frame []byte) []byte {
	const marker = "COMPRESSED:"
	if !bytes.HasPrefix(frame, []byte(marker)) {
		return frame
	}
	zr, err := gzip.NewReader(bytes.NewReader(frame[len(marker):]))
	if err != nil {
		return nil
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil
	}
	return out
}

func okHandler(command string) (string, string, int, string) {
	return "ran: " + command + "\n", "", 0, ""
}

func newTestClient(t *testing.T, handler execHandler) (*Client, *fakeEndpoint) {
	t.Helper()
	ep := &fakeEndpoint{handler: handler}
	store, err := queue.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("queue store: %v", err)
	}
	c, err := New(Options{Store: store, Dial: ep.dial, Password: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.Shutdown() })
	return c, ep
}

func TestExecuteReturnsOutput(t *testing.T) {
	c, _ := newTestClient(t, okHandler)
	out, err := c.Execute(context.Background(), "web1", "uptime", ExecOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "ran: uptime\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestExecuteCachedIssuesOneNetworkCall(t *testing.T) {
	c, ep := newTestClient(t, okHandler)
	opts := ExecOptions{UseCache: true}

	first, err := c.Execute(context.Background(), "web1", "uptime", opts)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := c.Execute(context.Background(), "web1", "uptime", opts)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if first != second {
		t.Fatalf("cached result differs: %q vs %q", first, second)
	}
	if got := ep.execCount(); got != 1 {
		t.Fatalf("expected a single network call, got %d", got)
	}

	// A different command is a different key.
	if _, err := c.Execute(context.Background(), "web1", "whoami", opts); err != nil {
		t.Fatalf("third execute: %v", err)
	}
	if got := ep.execCount(); got != 2 {
		t.Fatalf("expected a second network call for a new command, got %d", got)
	}
}

func TestExecuteFailureBecomesDescriptiveString(t *testing.T) {
	c, _ := newTestClient(t, func(string) (string, string, int, string) {
		return "", "", 0, "command dispatcher crashed"
	})
	out, err := c.Execute(context.Background(), "web1", "uptime", ExecOptions{})
	if err != nil {
		t.Fatalf("server errors must not surface as errors: %v", err)
	}
	if out == "" || !bytes.HasPrefix([]byte(out), []byte("Error: ")) {
		t.Fatalf("expected an Error: string, got %q", out)
	}
}

func TestExecuteAuthFailureIsRaised(t *testing.T) {
	c, ep := newTestClient(t, func(string) (string, string, int, string) {
		return "", "", 0, "authentication failed: invalid password"
	})
	_, err := c.Execute(context.Background(), "web1", "uptime", ExecOptions{})
	var authErr *rpc.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if got := ep.execCount(); got != 1 {
		t.Fatalf("auth failures must not retry, got %d calls", got)
	}
}

func TestExecuteStderrStillCountsAsOutput(t *testing.T) {
	c, _ := newTestClient(t, func(string) (string, string, int, string) {
		return "", "No such file or directory\n", 2, ""
	})
	out, err := c.Execute(context.Background(), "web1", "ls /nope", ExecOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "No such file or directory\n" {
		t.Fatalf("stderr should come back as output, got %q", out)
	}
}

func TestExecuteBatchCollectsPerCommandResults(t *testing.T) {
	c, _ := newTestClient(t, func(command string) (string, string, int, string) {
		if command == "bad" {
			return "", "", 0, "exec backend unavailable"
		}
		return "ok: " + command, "", 0, ""
	})
	results, err := c.ExecuteBatch(context.Background(), "web1", []string{"one", "bad", "two"}, 0)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected all commands answered, got %d", len(results))
	}
	if results["one"] != "ok: one" || results["two"] != "ok: two" {
		t.Fatalf("unexpected results %v", results)
	}
	if !bytes.HasPrefix([]byte(results["bad"]), []byte("Error: ")) {
		t.Fatalf("failed command should carry an Error: string, got %q", results["bad"])
	}
}

func TestEnqueueRunsThroughWorker(t *testing.T) {
	c, _ := newTestClient(t, okHandler)

	done := make(chan queue.Item, 1)
	item := c.Enqueue("web1", "df -h", func(it queue.Item) { done <- it })
	if item.Status != queue.StatusPending {
		t.Fatalf("enqueued item should start pending, got %s", item.Status)
	}

	select {
	case finished := <-done:
		if finished.Status != queue.StatusCompleted {
			t.Fatalf("expected completion, got %+v", finished)
		}
		if finished.Result != "ran: df -h\n" {
			t.Fatalf("unexpected result %q", finished.Result)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("queue item never finished")
	}

	s := c.QueueStatus()
	if s.Completed != 1 || s.Pending != 0 {
		t.Fatalf("unexpected queue summary %+v", s)
	}
}

func TestEnqueueFailureVisibleViaStatus(t *testing.T) {
	c, _ := newTestClient(t, func(string) (string, string, int, string) {
		return "", "", 0, "exec backend unavailable"
	})

	done := make(chan queue.Item, 1)
	c.Enqueue("web1", "uptime", func(it queue.Item) { done <- it })

	select {
	case finished := <-done:
		if finished.Status != queue.StatusFailed || finished.Error == "" {
			t.Fatalf("failure should land on the item, got %+v", finished)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("queue item never finished")
	}
}

func TestCancelPendingItem(t *testing.T) {
	// A failing-but-slow endpoint keeps the worker busy long enough to
	// cancel the second item while it still sits pending.
	block := make(chan struct{})
	c, _ := newTestClient(t, func(command string) (string, string, int, string) {
		if command == "slow" {
			<-block
		}
		return "ok", "", 0, ""
	})
	defer close(block)

	c.Enqueue("web1", "slow", nil)
	victim := c.Enqueue("web1", "never runs", nil)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if c.Cancel(victim.ID) {
			break
		}
		it, ok := c.QueueItem(victim.ID)
		if ok && it.Terminal() {
			t.Fatalf("victim reached terminal state before cancel: %+v", it)
		}
		if time.Now().After(deadline) {
			t.Fatalf("could not cancel pending item")
		}
		time.Sleep(5 * time.Millisecond)
	}

	it, ok := c.QueueItem(victim.ID)
	if !ok || it.Status != queue.StatusFailed {
		t.Fatalf("cancelled item should be failed, got %+v", it)
	}
}

func TestSubscribeSeesLifecycleEvents(t *testing.T) {
	c, _ := newTestClient(t, okHandler)
	id, events := c.Subscribe()
	defer c.Unsubscribe(id)

	c.Enqueue("web1", "uptime", nil)

	seen := map[EventKind]bool{}
	deadline := time.After(5 * time.Second)
	for !(seen[EventEnqueued] && seen[EventItemStarted] && seen[EventItemCompleted]) {
		select {
		case e := <-events:
			seen[e.Kind] = true
		case <-deadline:
			t.Fatalf("missing lifecycle events, saw %v", seen)
		}
	}
}

func TestMetadataCachedLongerThanCommands(t *testing.T) {
	c, ep := newTestClient(t, okHandler)
	first, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	second, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("second list tools: %v", err)
	}
	if first != second {
		t.Fatalf("metadata should be cached")
	}
	// tools/list is not an exec, so the exec counter stays untouched.
	if got := ep.execCount(); got != 0 {
		t.Fatalf("metadata calls must not count as execs: %d", got)
	}
}
