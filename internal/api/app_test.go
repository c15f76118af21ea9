package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/messaging"
	"github.com/npezzotti/go-roomchat/internal/render"
	"github.com/npezzotti/go-roomchat/internal/server"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/testutil"
	"github.com/npezzotti/go-roomchat/internal/tokens"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice@x.com"
	team1 = "team1"

	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

var testKey = []byte("web-client-signing-key")

type testEnv struct {
	app   *RoomChatApp
	srv   *httptest.Server
	stats *stats.StatsUpdater
	chat  *httptest.Server
}

// newTestEnv starts a chat service and the web client pointed at it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testutil.TestLogger(t)

	issuer := auth.NewTokenIssuer([]byte("service-signing-key"), time.Hour)
	cs, err := server.NewChatServer(logger, database.NewMemoryRepository(), issuer, server.NewNopBroker(), server.NewMetrics())
	require.NoError(t, err)
	go cs.Run()
	chat := httptest.NewServer(server.NewService(logger, cs, nil).Handler())

	templates, err := render.NewTemplates()
	require.NoError(t, err)

	mux := http.NewServeMux()
	su := stats.NewStatsUpdater(mux)
	su.Run()

	cfg := &config.Config{ServerAddr: "localhost:0", SigningKey: testKey}
	wsURL := "ws" + strings.TrimPrefix(chat.URL, "http") + "/v1/ws"
	app := NewRoomChatApp(mux, logger, cfg, tokens.NewClient(chat.URL), messaging.NewDialer(wsURL, logger, 0), templates, su)
	srv := httptest.NewServer(app.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		app.Shutdown(ctx)
		srv.Close()
		cs.Shutdown(ctx)
		chat.Close()
		su.Stop()
	})

	return &testEnv{app: app, srv: srv, stats: su, chat: chat}
}

func noRedirect(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}

func (e *testEnv) client() *http.Client {
	return &http.Client{CheckRedirect: noRedirect}
}

func (e *testEnv) handoffCookie(t *testing.T, email, room string) *http.Cookie {
	t.Helper()
	token, err := e.app.createHandoffToken(Handoff{
		Identity: types.Identity{Email: email},
		Room:     types.Room{Name: room},
	}, time.Hour)
	require.NoError(t, err)
	return createHandoffCookie(token, time.Hour)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

type page struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) openPage(t *testing.T, cookie *http.Cookie) *page {
	t.Helper()

	header := http.Header{}
	header.Set("Cookie", cookie.String())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+"/chat/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &page{t: t, conn: conn}
}

func (p *page) next() View {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(waitFor))
	_, raw, err := p.conn.ReadMessage()
	require.NoError(p.t, err, "expected a view from the bridge")

	var v View
	require.NoError(p.t, json.Unmarshal(raw, &v))
	return v
}

// until reads views until match returns true and returns that view.
func (p *page) until(match func(View) bool) View {
	p.t.Helper()
	for {
		if v := p.next(); match(v) {
			return v
		}
	}
}

func (p *page) send(msgType, body string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(pageMessage{Type: msgType, Body: body}))
}
