// Package bridge connects the orchestrator to its external collaborator
// over a WebSocket. The collaborator dials in; the orchestrator sends
// correlated request frames for state bundles and primitive invocations.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acteon/acteon/internal/action"
	pkgbridge "github.com/acteon/acteon/pkg/bridge"
)

// Bridge holds at most one collaborator connection. A new connection
// replaces the previous one; requests in flight on the old connection fail.
type Bridge struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan pkgbridge.Response
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Bridge {
	return &Bridge{
		pending: make(map[string]chan pkgbridge.Response),
		logger:  logger.Named("bridge"),
	}
}

// Handler accepts the collaborator WebSocket and runs its read loop until
// the connection drops.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			b.logger.Warn("accept failed", zap.Error(err))
			return
		}
		b.attach(conn)
		b.logger.Info("collaborator connected", zap.String("remote", r.RemoteAddr))
		b.readLoop(r.Context(), conn)
	})
}

func (b *Bridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close(websocket.StatusPolicyViolation, "replaced by new collaborator")
		b.failPendingLocked("collaborator replaced")
	}
	b.conn = conn
}

// Connected reports whether a collaborator is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
				b.failPendingLocked("collaborator disconnected")
			}
			b.mu.Unlock()
			b.logger.Info("collaborator disconnected", zap.Error(err))
			return
		}

		var resp pkgbridge.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			b.logger.Warn("unreadable frame", zap.Error(err))
			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if !ok {
			b.logger.Warn("response for unknown request", zap.String("id", resp.ID))
			continue
		}
		ch <- resp
	}
}

func (b *Bridge) failPendingLocked(reason string) {
	for id, ch := range b.pending {
		ch <- pkgbridge.Response{ID: id, Error: reason}
		delete(b.pending, id)
	}
}

// request sends one frame and waits for its correlated response or ctx.
func (b *Bridge) request(ctx context.Context, req pkgbridge.Request) (pkgbridge.Response, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return pkgbridge.Response{}, fmt.Errorf("no collaborator connected")
	}
	ch := make(chan pkgbridge.Response, 1)
	b.pending[req.ID] = ch
	b.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		b.drop(req.ID)
		return pkgbridge.Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		b.drop(req.ID)
		return pkgbridge.Response{}, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return pkgbridge.Response{}, fmt.Errorf("collaborator: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		b.drop(req.ID)
		return pkgbridge.Response{}, ctx.Err()
	}
}

func (b *Bridge) drop(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// StateBundle fetches the collaborator's current state text.
func (b *Bridge) StateBundle(ctx context.Context) (string, error) {
	resp, err := b.request(ctx, pkgbridge.Request{
		ID:     uuid.NewString(),
		Method: pkgbridge.MethodStateBundle,
	})
	if err != nil {
		return "", err
	}
	var bundle string
	if err := json.Unmarshal(resp.Result, &bundle); err != nil {
		return "", fmt.Errorf("state bundle is not a string: %w", err)
	}
	return bundle, nil
}

// Invoke runs one collaborator primitive and returns its JSON result.
func (b *Bridge) Invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	resp, err := b.request(ctx, pkgbridge.Request{
		ID:     uuid.NewString(),
		Method: pkgbridge.MethodInvoke,
		Name:   name,
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, fmt.Errorf("primitive %q result: %w", name, err)
	}
	return out, nil
}

// Primitive wraps a collaborator primitive as an action procedure.
func (b *Bridge) Primitive(name string) action.ProcFunc {
	return func(ctx context.Context, params map[string]any, _ any) (any, error) {
		return b.Invoke(ctx, name, params)
	}
}

// Static is a fixed-state collaborator for tests and headless runs.
type Static struct {
	Bundle string
}

func (s Static) StateBundle(context.Context) (string, error) { return s.Bundle, nil }
