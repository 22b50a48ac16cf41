package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/auth"
	"github.com/vovakirdan/citychat/internal/config"
	"github.com/vovakirdan/citychat/internal/moderation"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/conversations"
	"github.com/vovakirdan/citychat/internal/service/dmrequests"
	"github.com/vovakirdan/citychat/internal/service/messaging"
	"github.com/vovakirdan/citychat/internal/store/sqlite"
)

type testServer struct {
	ts   *httptest.Server
	deps Deps
}

func startTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	cfg := config.Default().DevServer
	cfg.Addr = ":0"
	cfg.GlobalRoom = "global"

	hub := relay.NewHub(&logger)
	filter := moderation.NewFilter([]string{"darn"})
	convs := conversations.New(st, hub, &logger)
	deps := Deps{
		Auth: auth.NewService(st, &auth.JWTConfig{
			Secret: []byte("test-secret"),
			Issuer: "test",
			TTL:    time.Hour,
		}),
		Store: st,
		Hub:   hub,
		Messages: messaging.New(messaging.Options{
			Store:      st,
			Hub:        hub,
			Filter:     filter,
			Limiter:    messaging.NewRateLimiter(rateLimit, time.Minute, nil),
			Logger:     &logger,
			Moderators: []string{"sheriff"},
		}),
		Conversations: convs,
		DMRequests: dmrequests.New(dmrequests.Options{
			Store:         st,
			Hub:           hub,
			Conversations: convs,
			Filter:        filter,
			Logger:        &logger,
		}),
	}

	server := NewServer(deps, cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, deps: deps}
}

// token issues a token through the dev endpoint.
func (s *testServer) token(t *testing.T, username string) proto.TokenResponse {
	t.Helper()
	var out proto.TokenResponse
	status, env := s.call(t, http.MethodPost, "/api/dev/token", "", proto.TokenRequest{Username: username})
	if status != http.StatusOK {
		t.Fatalf("issue token for %s: status %d (%s)", username, status, env.Error)
	}
	decodeData(t, env, &out)
	return out
}

func (s *testServer) call(t *testing.T, method, path, token string, body any) (int, proto.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env proto.Response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env proto.Response, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

type wsPeer struct {
	t     *testing.T
	conn  *websocket.Conn
	codec proto.Codec
}

func (s *testServer) dial(t *testing.T, codec proto.Codec) *wsPeer {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	wsURL := strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{codec.Name()}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	if got := conn.Subprotocol(); got != codec.Name() {
		t.Fatalf("expected subprotocol %s, got %q", codec.Name(), got)
	}
	return &wsPeer{t: t, conn: conn, codec: codec}
}

func (p *wsPeer) send(event string, data any) {
	p.t.Helper()
	raw, err := p.codec.Encode(event, data)
	if err != nil {
		p.t.Fatalf("encode %s: %v", event, err)
	}
	typ := websocket.MessageText
	if p.codec.Binary() {
		typ = websocket.MessageBinary
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.conn.Write(ctx, typ, raw); err != nil {
		p.t.Fatalf("write %s: %v", event, err)
	}
}

// expect reads frames until one named event arrives.
func (p *wsPeer) expect(event string) proto.Envelope {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		_, raw, err := p.conn.Read(ctx)
		if err != nil {
			p.t.Fatalf("waiting for %s: %v", event, err)
		}
		env, err := p.codec.Decode(raw)
		if err != nil {
			p.t.Fatalf("decode frame: %v", err)
		}
		if env.Event == event {
			return env
		}
	}
}

func (p *wsPeer) authenticate(token string) proto.AuthenticatedData {
	p.t.Helper()
	p.send(proto.CmdAuthenticate, proto.AuthenticateData{Token: token, Protocol: proto.ProtocolVersion})
	var data proto.AuthenticatedData
	if err := p.expect(proto.EvtAuthenticated).Bind(&data); err != nil {
		p.t.Fatalf("bind authenticated: %v", err)
	}
	return data
}
