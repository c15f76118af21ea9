package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/httputil"
	"github.com/npezzotti/go-roomchat/internal/protocol"
)

type TokenResponse struct {
	Identity string `json:"identity"`
	Token    string `json:"token"`
}

// Service exposes the chat server over HTTP: the token endpoint, the
// realtime websocket endpoint, health and metrics.
type Service struct {
	log            *log.Logger
	cs             *ChatServer
	db             database.Repository
	tokens         *auth.TokenIssuer
	metrics        *Metrics
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewService(logger *log.Logger, cs *ChatServer, allowedOrigins []string) *Service {
	return &Service{
		log:            logger,
		cs:             cs,
		db:             cs.db,
		tokens:         cs.tokens,
		metrics:        cs.metrics,
		allowedOrigins: allowedOrigins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     httputil.OriginChecker(allowedOrigins, false),
		},
	}
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /token/{identity}", s.metrics.instrument("token", s.issueToken))
	mux.Handle("GET /v1/ws", s.metrics.instrument("ws", s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return httputil.Wrap(s.log, s.allowedOrigins, mux)
}

func (s *Service) issueToken(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(r.PathValue("identity"))
	if identity == "" {
		httputil.WriteError(s.log, w, httputil.NewBadRequestError("identity is required"))
		return
	}

	token, _, err := s.tokens.Issue(identity)
	if err != nil {
		httputil.WriteError(s.log, w, httputil.NewInternalServerError(err))
		return
	}
	s.metrics.TokensIssued.Inc()

	httputil.WriteJson(s.log, w, http.StatusOK, TokenResponse{
		Identity: identity,
		Token:    token,
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}

	return strings.TrimSpace(token), true
}

func (s *Service) serveWs(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		httputil.WriteError(s.log, w, httputil.NewUnauthorizedError())
		return
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		errResp := httputil.NewUnauthorizedError()
		if errors.Is(err, auth.ErrTokenExpired) {
			errResp.Message = "token expired"
		}
		httputil.WriteError(s.log, w, errResp)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("upgrade:", err)
		return
	}

	client := NewClient(claims, conn, s.cs, s.log)
	s.cs.RegisterClient(client)
	client.queueMessage(protocol.Initialized(claims.Identity))

	go client.Write()
	go client.Read()
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		httputil.WriteError(s.log, w, httputil.NewServiceUnavailableError(err))
		return
	}

	httputil.WriteJson(s.log, w, http.StatusOK, map[string]string{"status": "ok"})
}
