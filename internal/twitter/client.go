// Package twitter is the OAuth2 + REST client for the Twitter v2 API. It
// owns token exchange and refresh; every successful grant is persisted
// through the credential store before it is returned.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plumelab/chirpd/internal/config"
	"github.com/plumelab/chirpd/internal/logger"
	"github.com/plumelab/chirpd/internal/store"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const requestTimeout = 30 * time.Second

// Client talks to the provider's token endpoint and content API.
type Client struct {
	oauth   *oauth2.Config
	http    *http.Client
	apiBase string
	store   store.Store
}

// NewClient builds a Client from the Twitter configuration.
func NewClient(cfg *config.TwitterConfig, st store.Store) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		http:    &http.Client{Timeout: requestTimeout},
		apiBase: strings.TrimSuffix(cfg.APIBaseURL, "/"),
		store:   st,
	}
}

// AuthCodeURL composes the provider authorization URL for a state and S256
// code challenge.
func (c *Client) AuthCodeURL(state, codeChallenge string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange redeems an authorization code with its PKCE verifier, resolves
// the authenticated user via /users/me, persists the credential and returns
// it. State validation is the caller's job and must happen before this.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (*store.Credential, error) {
	tok, err := c.oauth.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}

	user, err := c.Me(ctx, tok.AccessToken)
	if err != nil {
		return nil, &ExchangeError{Err: fmt.Errorf("identity lookup: %w", err)}
	}

	cred := &store.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		UserID:       user.ID,
	}
	if err := c.store.Save(ctx, cred); err != nil {
		return nil, &ExchangeError{Err: fmt.Errorf("persist credential: %w", err)}
	}

	logger.Info("token exchange completed", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return cred, nil
}

// Refresh trades the refresh token for a new pair, keeping the prior user
// identity. Some providers do not rotate refresh tokens; when the response
// omits one the supplied token is carried forward. The rotated credential
// is persisted before it is returned.
func (c *Client) Refresh(ctx context.Context, cred *store.Credential) (*store.Credential, error) {
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, &RefreshError{Err: err}
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	fresh := &store.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		UserID:       cred.UserID,
	}
	if err := c.store.Save(ctx, fresh); err != nil {
		return nil, &RefreshError{Err: fmt.Errorf("persist credential: %w", err)}
	}

	logger.Info("access token refreshed", zap.String("user_id", cred.UserID))
	return fresh, nil
}

// Me returns the identity of the token's owner.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var out struct {
		Data User `json:"data"`
	}
	if err := c.api(ctx, accessToken, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetTweet fetches a single tweet's text and metadata.
func (c *Client) GetTweet(ctx context.Context, accessToken, tweetID string) (*Tweet, error) {
	var out struct {
		Data Tweet `json:"data"`
	}
	path := fmt.Sprintf("/tweets/%s?tweet.fields=text,author_id,created_at", tweetID)
	if err := c.api(ctx, accessToken, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// PostTweet publishes a tweet, optionally with attached media.
func (c *Client) PostTweet(ctx context.Context, accessToken, text string, mediaIDs []string) (*Tweet, error) {
	req := tweetRequest{Text: text}
	if len(mediaIDs) > 0 {
		req.Media = &tweetMedia{MediaIDs: mediaIDs}
	}

	var out struct {
		Data Tweet `json:"data"`
	}
	if err := c.api(ctx, accessToken, http.MethodPost, "/tweets", req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Reply publishes a reply to an existing tweet.
func (c *Client) Reply(ctx context.Context, accessToken, text, toTweetID string) (*Tweet, error) {
	req := tweetRequest{
		Text:  text,
		Reply: &tweetReply{InReplyToTweetID: toTweetID},
	}

	var out struct {
		Data Tweet `json:"data"`
	}
	if err := c.api(ctx, accessToken, http.MethodPost, "/tweets", req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Like marks a tweet as liked by the user.
func (c *Client) Like(ctx context.Context, accessToken, userID, tweetID string) (*LikeResult, error) {
	var out struct {
		Data LikeResult `json:"data"`
	}
	path := fmt.Sprintf("/users/%s/likes", userID)
	body := map[string]string{"tweet_id": tweetID}
	if err := c.api(ctx, accessToken, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Unlike removes the user's like from a tweet.
func (c *Client) Unlike(ctx context.Context, accessToken, userID, tweetID string) (*LikeResult, error) {
	var out struct {
		Data LikeResult `json:"data"`
	}
	path := fmt.Sprintf("/users/%s/likes/%s", userID, tweetID)
	if err := c.api(ctx, accessToken, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Retweet reposts a tweet for the user.
func (c *Client) Retweet(ctx context.Context, accessToken, userID, tweetID string) (*RetweetResult, error) {
	var out struct {
		Data RetweetResult `json:"data"`
	}
	path := fmt.Sprintf("/users/%s/retweets", userID)
	body := map[string]string{"tweet_id": tweetID}
	if err := c.api(ctx, accessToken, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Unretweet removes the user's repost of a tweet.
func (c *Client) Unretweet(ctx context.Context, accessToken, userID, tweetID string) (*RetweetResult, error) {
	var out struct {
		Data RetweetResult `json:"data"`
	}
	path := fmt.Sprintf("/users/%s/retweets/%s", userID, tweetID)
	if err := c.api(ctx, accessToken, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// api executes one authenticated call against the content API. A 401
// response maps to ErrUnauthorized so callers can refresh and retry; any
// other non-2xx response becomes an APIError.
func (c *Client) api(ctx context.Context, accessToken, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("failed to close response body", zap.Error(closeErr))
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
