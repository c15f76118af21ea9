// Package tokens fetches chat service access tokens from the token endpoint.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/npezzotti/go-roomchat/internal/types"
)

const DefaultTimeout = 10 * time.Second

var ErrEmptyToken = errors.New("token endpoint returned an empty token")

type Response struct {
	Identity string `json:"identity"`
	Token    string `json:"token"`
}

// Client calls GET {BaseURL}/token/{identity}.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *Client) Token(ctx context.Context, identity types.Identity) (string, error) {
	endpoint := c.BaseURL + "/token/" + url.PathEscape(identity.Email)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("fetch token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr Response
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Token == "" {
		return "", ErrEmptyToken
	}

	return tr.Token, nil
}
