package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkgbridge "github.com/acteon/acteon/pkg/bridge"
)

// fakeCollaborator answers bridge requests the way a browser extension
// would.
func fakeCollaborator(t *testing.T, ctx context.Context, conn *websocket.Conn) {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req pkgbridge.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.Errorf("decoding request frame: %v", err)
			return
		}

		var resp pkgbridge.Response
		resp.ID = req.ID
		switch req.Method {
		case pkgbridge.MethodStateBundle:
			resp.Result, _ = json.Marshal("tab 1: https://example.com\ntab 2: https://news.site")
		case pkgbridge.MethodInvoke:
			switch req.Name {
			case "navigate":
				resp.Result, _ = json.Marshal(map[string]any{"ok": true, "url": req.Params["url"]})
			default:
				resp.Error = "unknown primitive " + req.Name
			}
		}
		out, _ := json.Marshal(resp)
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

func dialBridge(t *testing.T) *Bridge {
	t.Helper()
	b := New(zaptest.NewLogger(t))
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	go fakeCollaborator(t, ctx, conn)

	require.Eventually(t, b.Connected, time.Second, 5*time.Millisecond)
	return b
}

func TestStateBundle(t *testing.T) {
	b := dialBridge(t)

	bundle, err := b.StateBundle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, bundle, "tab 1: https://example.com")
}

func TestInvokePrimitive(t *testing.T) {
	b := dialBridge(t)

	out, err := b.Invoke(context.Background(), "navigate", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, "https://example.com", m["url"])
}

func TestInvokeUnknownPrimitive(t *testing.T) {
	b := dialBridge(t)

	_, err := b.Invoke(context.Background(), "teleport", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown primitive")
}

func TestPrimitiveAsProcedure(t *testing.T) {
	b := dialBridge(t)

	proc := b.Primitive("navigate")
	out, err := proc(context.Background(), map[string]any{"url": "https://x"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
}

func TestNoCollaborator(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	_, err := b.StateBundle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no collaborator")
}

func TestRequestTimeout(t *testing.T) {
	// A collaborator that never answers: the caller's context bounds the
	// wait.
	b := New(zaptest.NewLogger(t))
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, b.Connected, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.StateBundle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaticCollaborator(t *testing.T) {
	s := Static{Bundle: "no tabs"}
	bundle, err := s.StateBundle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no tabs", bundle)
}
