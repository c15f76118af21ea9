package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChat(t *testing.T) {
	env := newTestEnv(t)

	tcases := []struct {
		name     string
		cookie   *http.Cookie
		code     int
		location string
		contains []string
	}{
		{
			name:     "no handoff",
			code:     http.StatusSeeOther,
			location: "/",
		},
		{
			name:     "invalid handoff",
			cookie:   createHandoffCookie("not-a-token", 0),
			code:     http.StatusSeeOther,
			location: "/",
		},
		{
			name:   "handoff",
			cookie: env.handoffCookie(t, alice, team1),
			code:   http.StatusOK,
			contains: []string{
				"Room: team1, User: alice@x.com",
				`<ul id="messages">`,
				`<button type="submit" id="send" disabled>`,
				`<script src="/static/chat.js">`,
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/chat", nil)
			require.NoError(t, err)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}

			resp, err := env.client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.code, resp.StatusCode)
			assert.Equal(t, tc.location, resp.Header.Get("Location"))
			body := readBody(t, resp)
			for _, s := range tc.contains {
				assert.Contains(t, body, s)
			}
		})
	}
}

func TestStaticAndHealth(t *testing.T) {
	env := newTestEnv(t)

	tcases := []struct {
		name     string
		path     string
		contains string
	}{
		{name: "chat script", path: "/static/chat.js", contains: "/chat/ws"},
		{name: "health", path: "/healthz", contains: `"status":"ok"`},
		{name: "stats", path: "/debug/vars", contains: `"OpenPages"`},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := env.client().Get(env.srv.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, readBody(t, resp), tc.contains)
		})
	}
}
