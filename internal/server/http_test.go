package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/httputil"
	"github.com/npezzotti/go-roomchat/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueToken(t *testing.T) {
	ts := newTestService(t)

	tcases := []struct {
		name     string
		path     string
		code     int
		identity string
	}{
		{name: "email", path: "/token/alice@x.com", code: http.StatusOK, identity: alice},
		{name: "escaped", path: "/token/a%20b%2Fc@x.com", code: http.StatusOK, identity: "a b/c@x.com"},
		{name: "blank", path: "/token/%20", code: http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(ts.srv.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.code, resp.StatusCode)
			if tc.code != http.StatusOK {
				return
			}

			var body TokenResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.identity, body.Identity)

			claims, err := ts.tokens.Verify(body.Token)
			require.NoError(t, err, "expected an access token signed by the service")
			assert.Equal(t, tc.identity, claims.Identity)
			assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
		})
	}
}

func TestServeWs_Unauthorized(t *testing.T) {
	ts := newTestService(t)
	expired, _, err := auth.NewTokenIssuer(testKey, -time.Minute).Issue(alice)
	require.NoError(t, err)

	tcases := []struct {
		name    string
		header  string
		message string
	}{
		{name: "no header", header: "", message: "unauthorized"},
		{name: "not bearer", header: "Basic abc", message: "unauthorized"},
		{name: "invalid token", header: "Bearer not-a-token", message: "unauthorized"},
		{name: "expired token", header: "Bearer " + expired, message: "token expired"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.header != "" {
				header.Set("Authorization", tc.header)
			}

			_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var body httputil.ApiError
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.message, body.Message)
		})
	}
}

func TestServeWs_RegistersClient(t *testing.T) {
	ts := newTestService(t)
	ts.dial(t, alice)
	ts.dial(t, bob)

	ts.cs.clientsLock.Lock()
	identities := []string{}
	for c := range ts.cs.clients {
		identities = append(identities, c.identity)
	}
	ts.cs.clientsLock.Unlock()

	assert.ElementsMatch(t, []string{alice, bob}, identities)
}

func TestHealthz(t *testing.T) {
	tcases := []struct {
		name    string
		pingErr error
		code    int
	}{
		{name: "healthy", code: http.StatusOK},
		{name: "database down", pingErr: errors.New("connection refused"), code: http.StatusServiceUnavailable},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			logger := testutil.TestLogger(t)
			db := new(database.MockRepository)
			db.On("Ping").Return(tc.pingErr)

			cs, err := NewChatServer(logger, db, auth.NewTokenIssuer(testKey, time.Hour), NewNopBroker(), NewMetrics())
			require.NoError(t, err)

			rr := httptest.NewRecorder()
			NewService(logger, cs, nil).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.code, rr.Code)
			db.AssertExpectations(t)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestService(t)

	resp, err := http.Get(ts.srv.URL + "/token/alice@x.com")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "chatservice_tokens_issued_total 1")
	assert.Eventually(t, func() bool {
		return promtest.CollectAndCount(ts.metrics.RequestDuration) == 1
	}, waitFor, tick, "expected the token request to be timed")
}

func TestBearerToken(t *testing.T) {
	tcases := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{name: "bearer", header: "Bearer abc", token: "abc", ok: true},
		{name: "padded", header: "Bearer  abc ", token: "abc", ok: true},
		{name: "empty bearer", header: "Bearer ", ok: false},
		{name: "lowercase scheme", header: "bearer abc", ok: false},
		{name: "missing", header: "", ok: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}

			token, ok := bearerToken(r)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.token, token)
		})
	}
}
