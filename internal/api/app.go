// Package api serves the roomchat web client: the entry form, the chat
// page and the websocket bridge that runs one chat session per open page.
package api

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/httputil"
	"github.com/npezzotti/go-roomchat/internal/render"
	"github.com/npezzotti/go-roomchat/internal/session"
	"github.com/npezzotti/go-roomchat/internal/stats"
)

//go:embed static
var staticFS embed.FS

type RoomChatApp struct {
	log         *log.Logger
	srv         *http.Server
	templates   *render.Templates
	validate    *validator.Validate
	signingKey  []byte
	tokens      session.TokenSource
	connector   session.Connector
	stats       stats.StatsProvider
	sessionOpts session.Options
	upgrader    websocket.Upgrader

	// bridges tracks open chat pages so Shutdown can close their sessions
	bridges   map[*bridge]struct{}
	bridgesMu sync.Mutex
	wg        sync.WaitGroup
}

func NewRoomChatApp(mux *http.ServeMux, logger *log.Logger, cfg *config.Config, tokens session.TokenSource, connector session.Connector, templates *render.Templates, statsProvider stats.StatsProvider) *RoomChatApp {
	a := &RoomChatApp{
		log:        logger,
		templates:  templates,
		validate:   validator.New(),
		signingKey: cfg.SigningKey,
		tokens:     tokens,
		connector:  connector,
		stats:      statsProvider,
		sessionOpts: session.Options{
			RefreshAttempts: cfg.RefreshAttempts,
			RefreshDelay:    cfg.RefreshDelay,
			Stats:           statsProvider,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     httputil.OriginChecker(cfg.AllowedOrigins, true),
		},
		bridges: make(map[*bridge]struct{}),
	}

	for _, name := range session.Metrics {
		statsProvider.RegisterMetric(name)
	}
	statsProvider.RegisterMetric(statOpenPages)

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	mux.HandleFunc("GET /{$}", a.entryForm)
	mux.HandleFunc("POST /{$}", a.submitEntry)
	mux.HandleFunc("GET /chat", a.chat)
	mux.HandleFunc("GET /chat/ws", a.serveWs)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	mux.HandleFunc("GET /healthz", a.healthz)

	a.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: httputil.Wrap(logger, cfg.AllowedOrigins, mux),
	}

	return a
}

func (a *RoomChatApp) Handler() http.Handler {
	return a.srv.Handler
}

func (a *RoomChatApp) Start() error {
	a.log.Printf("starting server on %s\n", a.srv.Addr)
	return a.srv.ListenAndServe()
}

// Shutdown stops accepting requests and closes every open chat session.
func (a *RoomChatApp) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	a.bridgesMu.Lock()
	for b := range a.bridges {
		b.stopBridge()
	}
	a.bridgesMu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close sessions: %w", ctx.Err())
	}
}

func (a *RoomChatApp) addBridge(b *bridge) {
	a.bridgesMu.Lock()
	defer a.bridgesMu.Unlock()
	a.bridges[b] = struct{}{}
	a.wg.Add(1)
	a.stats.Incr(statOpenPages)
}

func (a *RoomChatApp) removeBridge(b *bridge) {
	a.bridgesMu.Lock()
	defer a.bridgesMu.Unlock()
	if _, ok := a.bridges[b]; !ok {
		return
	}
	delete(a.bridges, b)
	a.wg.Done()
	a.stats.Decr(statOpenPages)
}

func (a *RoomChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJson(a.log, w, http.StatusOK, map[string]string{"status": "ok"})
}
