package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/plumelab/chirpd/internal/auth"
	"github.com/plumelab/chirpd/internal/config"
	"github.com/plumelab/chirpd/internal/dispatch"
	"github.com/plumelab/chirpd/internal/store"
	"github.com/plumelab/chirpd/internal/twitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider simulates the Twitter token endpoint and content API with a
// single valid access token that rotates on refresh.
type fakeProvider struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	refreshCalls int
	tweetBodies  []map[string]interface{}
}

func (p *fakeProvider) authorized(r *http.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+p.accessToken && p.accessToken != ""
}

func (p *fakeProvider) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		p.mu.Lock()
		defer p.mu.Unlock()

		switch r.FormValue("grant_type") {
		case "authorization_code":
			if r.FormValue("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant"}`)
				return
			}
			p.accessToken = "access-1"
			p.refreshToken = "refresh-1"
		case "refresh_token":
			p.refreshCalls++
			if r.FormValue("refresh_token") != p.refreshToken {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_request"}`)
				return
			}
			p.accessToken = "access-" + fmt.Sprint(p.refreshCalls+1)
			p.refreshToken = "refresh-" + fmt.Sprint(p.refreshCalls+1)
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  p.accessToken,
			"refresh_token": p.refreshToken,
			"token_type":    "bearer",
			"expires_in":    7200,
		})
	})

	requireAuth := func(w http.ResponseWriter, r *http.Request) bool {
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("GET /2/users/me", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		writeData(w, twitter.User{ID: "42", Name: "Test User", Username: "testuser"})
	})

	mux.HandleFunc("POST /2/tweets", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.tweetBodies = append(p.tweetBodies, body)
		p.mu.Unlock()
		writeData(w, twitter.Tweet{ID: "100", Text: body["text"].(string)})
	})

	mux.HandleFunc("GET /2/tweets/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		writeData(w, twitter.Tweet{ID: r.PathValue("id"), Text: "the original tweet"})
	})

	mux.HandleFunc("POST /2/users/42/likes", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		writeData(w, twitter.LikeResult{Liked: true})
	})

	mux.HandleFunc("POST /2/users/42/retweets", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		writeData(w, twitter.RetweetResult{Retweeted: true})
	})

	return mux
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

type stubGenerator struct {
	reply string
}

func (s *stubGenerator) Generate(_ context.Context, _, _ string) string { return s.reply }
func (s *stubGenerator) GenerateWithPersona(_ context.Context, _, _, _, _ string) string {
	return s.reply
}

type testEnv struct {
	ts       *httptest.Server
	provider *fakeProvider
	store    store.Store
	client   *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider := &fakeProvider{}
	providerSrv := httptest.NewServer(provider.handler(t))
	t.Cleanup(providerSrv.Close)

	st := store.NewMemoryStore()
	twCfg := &config.TwitterConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "http://localhost:3000/auth/callback",
		Scopes:       config.DefaultScopes,
		AuthURL:      providerSrv.URL + "/i/oauth2/authorize",
		TokenURL:     providerSrv.URL + "/2/oauth2/token",
		APIBaseURL:   providerSrv.URL + "/2",
	}
	tw := twitter.NewClient(twCfg, st)

	srv := NewServer(
		&config.ServerConfig{Host: "localhost", Port: 0},
		auth.NewFlow(tw),
		dispatch.NewDispatcher(st, tw),
		tw,
		&stubGenerator{reply: "generated reply"},
		st,
	)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		ts:       ts,
		provider: provider,
		store:    st,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// authenticate seeds the provider and store as if the flow had completed.
func (e *testEnv) authenticate(t *testing.T) {
	t.Helper()
	e.provider.mu.Lock()
	e.provider.accessToken = "access-1"
	e.provider.refreshToken = "refresh-1"
	e.provider.mu.Unlock()
	require.NoError(t, e.store.Save(context.Background(), &store.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		UserID:       "42",
	}))
}

func (e *testEnv) getJSON(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := e.client.Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func (e *testEnv) postJSON(t *testing.T, path string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := e.client.Post(e.ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestAuthFlowEndToEnd(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.getJSON(t, "/auth/url")
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body["authUrl"])
	state := body["state"].(string)

	status, body = e.getJSON(t, "/auth/callback?code=good-code&state="+state)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "42", body["userId"])
	assert.Equal(t, "testuser", body["username"])

	cred, err := e.store.Load(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "access-1", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
}

func TestAuthCallbackStateMismatch(t *testing.T) {
	e := newTestEnv(t)

	status, _ := e.getJSON(t, "/auth/url")
	require.Equal(t, http.StatusOK, status)

	status, body := e.getJSON(t, "/auth/callback?code=good-code&state=forged")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid callback parameters", body["error"])

	_, err := e.store.Load(context.Background(), "42")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuthCallbackIsSingleUse(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.getJSON(t, "/auth/url")
	state := body["state"].(string)

	status, _ := e.getJSON(t, "/auth/callback?code=good-code&state="+state)
	require.Equal(t, http.StatusOK, status)

	status, _ = e.getJSON(t, "/auth/callback?code=good-code&state="+state)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuthLoginRedirects(t *testing.T) {
	e := newTestEnv(t)

	resp, err := e.client.Get(e.ts.URL + "/auth/login")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "code_challenge_method=S256")
}

func TestTweetRequiresAuth(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.postJSON(t, "/tweet", map[string]interface{}{
		"loggedUserId": "42",
		"text":         "hello",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "User not authenticated", body["error"])
}

func TestTweetValidation(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	status, body := e.postJSON(t, "/tweet", map[string]interface{}{"loggedUserId": "42"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "loggedUserId and text are required", body["error"])
}

func TestTweet(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	status, body := e.postJSON(t, "/tweet", map[string]interface{}{
		"loggedUserId": "42",
		"text":         "hello world",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	tweet := body["tweet"].(map[string]interface{})
	assert.Equal(t, "hello world", tweet["text"])
}

func TestExpiredTokenIsRefreshedAndRetried(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	// Invalidate the stored access token provider-side; the refresh token
	// stays good, so one refresh and one retry must recover.
	e.provider.mu.Lock()
	e.provider.accessToken = "rotated-elsewhere"
	e.provider.mu.Unlock()

	status, body := e.postJSON(t, "/tweet", map[string]interface{}{
		"loggedUserId": "42",
		"text":         "still works",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, e.provider.refreshCalls)

	cred, err := e.store.Load(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "access-2", cred.AccessToken)
	assert.Equal(t, "refresh-2", cred.RefreshToken)
}

func TestRevokedRefreshTokenSurfacesAsUnauthenticated(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	e.provider.mu.Lock()
	e.provider.accessToken = "rotated-elsewhere"
	e.provider.refreshToken = "revoked"
	e.provider.mu.Unlock()

	status, body := e.postJSON(t, "/tweet", map[string]interface{}{
		"loggedUserId": "42",
		"text":         "will fail",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "User not authenticated", body["error"])

	// Store still holds the last good pair, not a half-written one.
	cred, err := e.store.Load(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "access-1", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
}

func TestReplyWithGeneration(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	status, body := e.postJSON(t, "/reply", map[string]interface{}{
		"loggedUserId":   "42",
		"replyToTweetId": "99",
		"useAI":          true,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "generated reply", body["generatedText"])

	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	require.Len(t, e.provider.tweetBodies, 1)
	posted := e.provider.tweetBodies[0]
	assert.Equal(t, "generated reply", posted["text"])
	reply := posted["reply"].(map[string]interface{})
	assert.Equal(t, "99", reply["in_reply_to_tweet_id"])
}

func TestReplyWithoutTextOrAI(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	status, body := e.postJSON(t, "/reply", map[string]interface{}{
		"loggedUserId":   "42",
		"replyToTweetId": "99",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Either provide text or set useAI to true", body["error"])
}

func TestReplyPreviewDoesNotPost(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	status, body := e.postJSON(t, "/reply/preview", map[string]interface{}{
		"loggedUserId":   "42",
		"replyToTweetId": "99",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["preview"])
	assert.Equal(t, "the original tweet", body["originalTweet"])
	assert.Equal(t, "generated reply", body["generatedReply"])

	e.provider.mu.Lock()
	defer e.provider.mu.Unlock()
	assert.Empty(t, e.provider.tweetBodies, "preview must not publish anything")
}

func TestLike(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	status, body := e.postJSON(t, "/like", map[string]interface{}{
		"loggedUserId": "42",
		"tweetId":      "99",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["liked"])
}

func TestUser(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	status, body := e.getJSON(t, "/user/42")
	require.Equal(t, http.StatusOK, status)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "testuser", user["username"])
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	e.authenticate(t)

	status, body := e.postJSON(t, "/logout/42", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	_, err := e.store.Load(context.Background(), "42")
	assert.ErrorIs(t, err, store.ErrNotFound)

	status, _ = e.postJSON(t, "/tweet", map[string]interface{}{
		"loggedUserId": "42",
		"text":         "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.getJSON(t, "/health")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}
