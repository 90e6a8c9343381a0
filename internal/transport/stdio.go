package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/shared"
	"go.uber.org/zap"
)

// StdioSessionID is the synthetic, single-session identifier every stdio
// transport connection uses: stdio carries no sessions
// (session_id is synthetic)".
const StdioSessionID = "stdio"

// StdioTransport serves MCP over line-delimited JSON frames on stdin/stdout,
// for stdio: no streaming, no Mcp-Session-Id header, one session for the
// life of the process. Grounded on the Streamable HTTP transport's own
// message pump (handle-mcp2025-POST.go's Parse -> Put -> drain-output shape),
// collapsed to a single long-lived reader/writer pair instead of per-request
// HTTP round trips.
type StdioTransport struct {
	sessionManager session.ISessionManager
	logger         *zap.Logger
	in             io.Reader
	out            io.Writer
	writeMu        sync.Mutex
}

// NewStdio creates a stdio transport reading newline-delimited JSON-RPC
// frames from in and writing responses/notifications, one per line, to out.
func NewStdio(sessionManager session.ISessionManager, logger *zap.Logger, in io.Reader, out io.Writer) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		sessionManager: sessionManager,
		logger:         logger.Named("stdio"),
		in:             in,
		out:            out,
	}
}

// Serve reads frames until in ends (EOF or a read error), then keeps writing
// the session's output until ctx is cancelled, so it returns only once ctx is
// done; a cancellation seen between frames returns ctx.Err(). It blocks the
// calling goroutine; callers typically run it directly from main().
func (t *StdioTransport) Serve(ctx context.Context) error {
	sess := t.sessionManager.CreateSession("stdio-user", StdioSessionID, &sync.Map{})
	defer t.sessionManager.CloseSession(sess.GetID())

	done := make(chan struct{})
	go t.pumpOutput(ctx, sess, done)
	defer func() {
		<-done // let the writer goroutine drain whatever is left before returning
	}()

	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msgs, err := shared.ParseMessages(sess, []byte(line))
		if err != nil {
			t.logger.Warn("discarding malformed stdio frame", zap.Error(err))
			continue
		}
		for _, msg := range msgs {
			msg.Session = sess
			msg.Timestamp = time.Now()
			if putErr := sess.Input().Put(msg); putErr != nil {
				t.logger.Error("failed to enqueue stdio frame", zap.Error(putErr))
			}
		}
	}
	return scanner.Err()
}

// pumpOutput drains sess's output channel, writing each response or
// notification as one JSON line, until the channel closes or ctx is
// cancelled (every frame is a complete line, never
// a chunked/SSE encoding).
func (t *StdioTransport) pumpOutput(ctx context.Context, sess shared.ISession, done chan<- struct{}) {
	defer close(done)
	output, ok := sess.AcquireOutput()
	if !ok {
		t.logger.Error("failed to acquire stdio session output channel")
		return
	}
	defer sess.ReleaseOutput()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, chOk := <-output:
			if !chOk {
				return
			}
			if msg == nil {
				continue
			}
			t.writeLine(msg)
		}
	}
}

func (t *StdioTransport) writeLine(msg *shared.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		t.logger.Error("failed to encode stdio frame", zap.Error(err))
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := fmt.Fprintf(t.out, "%s\n", data); err != nil {
		t.logger.Error("failed to write stdio frame", zap.Error(err))
	}
}
