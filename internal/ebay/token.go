package ebay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var ErrNotConfigured = errors.New("EBAY_CLIENT_ID, EBAY_CLIENT_SECRET and EBAY_REFRESH_TOKEN must be set")

var defaultScopes = []string{
	"https://api.ebay.com/oauth/api_scope/sell.inventory",
	"https://api.ebay.com/oauth/api_scope/sell.account",
}

// refresh this long before eBay says the token expires
const expirySkew = 60 * time.Second

// TokenSource hands out user access tokens minted from a long lived refresh
// token. Tokens are cached until shortly before expiry; concurrent callers
// wait for a single refresh.
type TokenSource struct {
	baseURL      string
	clientID     string
	clientSecret string
	refreshToken string
	http         *http.Client
	now          func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewTokenSource(baseURL, clientID, clientSecret, refreshToken string, hc *http.Client) *TokenSource {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TokenSource{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		http:         hc,
		now:          time.Now,
	}
}

func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if ts.clientID == "" || ts.clientSecret == "" || ts.refreshToken == "" {
		return "", ErrNotConfigured
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expiry) {
		return ts.token, nil
	}

	tok, ttl, err := ts.refresh(ctx)
	if err != nil {
		return "", err
	}
	ts.token = tok
	ts.expiry = ts.now().Add(ttl - expirySkew)
	return tok, nil
}

func (ts *TokenSource) refresh(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", ts.refreshToken)
	form.Set("scope", strings.Join(defaultScopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+"/identity/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(ts.clientID, ts.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := ts.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("ebay token: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("ebay token: http %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, fmt.Errorf("ebay token: decode: %w", err)
	}
	if out.AccessToken == "" {
		return "", 0, errors.New("ebay token: empty access_token")
	}
	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}
