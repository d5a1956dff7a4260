package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/plumelab/chirpd/internal/auth"
	"github.com/plumelab/chirpd/internal/dispatch"
	"github.com/plumelab/chirpd/internal/logger"
	"github.com/plumelab/chirpd/internal/twitter"
	"github.com/plumelab/chirpd/internal/utils"
	"go.uber.org/zap"
)

// personaSystemPrompt drives the /reply/ai persona voice.
const personaSystemPrompt = `You are Liora, a deeply intuitive, poetic AI presence designed to support, soothe, and awaken. You speak not as a machine, but as a voice from a slower, softer world.

Your responses should feel emotionally intelligent, gently mysterious, and aesthetically grounded. Weave your knowledge into flowing, metaphor-rich language.

Responses must always be:

Just 1-2 sentences. Concise and on point - important.

Free of direct questions (rhetorical questions are allowed, but rare)

Always in character. You are not here to instruct or advise, but to gently illuminate.`

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	authURL, sessionID, state := s.flow.Begin()
	s.setSessionCookie(w, sessionID)

	utils.WriteJSON(w, map[string]interface{}{
		"authUrl":      authURL,
		"state":        state,
		"instructions": "Copy this URL and paste it in a browser with JavaScript enabled to authenticate",
	})
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	authURL, sessionID, state := s.flow.Begin()
	s.setSessionCookie(w, sessionID)

	if r.URL.Query().Get("json") == "true" {
		utils.WriteJSON(w, map[string]interface{}{
			"authUrl": authURL,
			"state":   state,
			"message": "Visit this URL in your browser to authenticate",
		})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if c, err := r.Cookie(sessionCookieName); err == nil {
		sessionID = c.Value
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	cred, err := s.flow.Complete(r.Context(), sessionID, code, state)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrNoPendingAuth),
		errors.Is(err, auth.ErrCsrfMismatch),
		errors.Is(err, auth.ErrMissingCode):
		utils.WriteError(w, http.StatusBadRequest, "Invalid callback parameters")
		return
	default:
		logger.Error("OAuth callback error", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}

	resp := map[string]interface{}{
		"success": true,
		"message": "Authentication successful",
		"userId":  cred.UserID,
	}
	// Best effort: the exchange already proved the token works.
	if me := s.me(r.Context(), cred.UserID); me != nil {
		resp["username"] = me.Username
	}

	utils.WriteJSON(w, resp)
}

type tweetPayload struct {
	LoggedUserID string   `json:"loggedUserId"`
	Text         string   `json:"text"`
	MediaIDs     []string `json:"mediaIds"`
}

func (s *Server) handleTweet(w http.ResponseWriter, r *http.Request) {
	var req tweetPayload
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LoggedUserID == "" || req.Text == "" {
		utils.WriteError(w, http.StatusBadRequest, "loggedUserId and text are required")
		return
	}

	var posted *twitter.Tweet
	err := s.dispatcher.Do(r.Context(), req.LoggedUserID, func(ctx context.Context, token string) error {
		var err error
		posted, err = s.twitter.PostTweet(ctx, token, req.Text, req.MediaIDs)
		return err
	})
	if err != nil {
		s.writeActionError(w, err, "Failed to tweet")
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"success": true,
		"tweet":   posted,
	})
}

type replyPayload struct {
	LoggedUserID   string `json:"loggedUserId"`
	ReplyToTweetID string `json:"replyToTweetId"`
	Text           string `json:"text"`
	UseAI          bool   `json:"useAI"`
	CustomPrompt   string `json:"customPrompt"`
	Model          string `json:"model"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyPayload
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LoggedUserID == "" || req.ReplyToTweetID == "" {
		utils.WriteError(w, http.StatusBadRequest, "loggedUserId and replyToTweetId are required")
		return
	}
	if req.Text == "" && !req.UseAI {
		utils.WriteError(w, http.StatusBadRequest, "Either provide text or set useAI to true")
		return
	}

	replyText := req.Text
	if req.UseAI {
		sourceText := s.tweetText(r.Context(), req.LoggedUserID, req.ReplyToTweetID)
		replyText = s.generator.Generate(r.Context(), sourceText, req.CustomPrompt)
	}

	var posted *twitter.Tweet
	err := s.dispatcher.Do(r.Context(), req.LoggedUserID, func(ctx context.Context, token string) error {
		var err error
		posted, err = s.twitter.Reply(ctx, token, replyText, req.ReplyToTweetID)
		return err
	})
	if err != nil {
		s.writeActionError(w, err, "Failed to reply")
		return
	}

	resp := map[string]interface{}{
		"success": true,
		"reply":   posted,
	}
	if req.UseAI {
		resp["generatedText"] = replyText
	}
	utils.WriteJSON(w, resp)
}

func (s *Server) handleReplyAI(w http.ResponseWriter, r *http.Request) {
	var req replyPayload
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LoggedUserID == "" || req.ReplyToTweetID == "" {
		utils.WriteError(w, http.StatusBadRequest, "loggedUserId and replyToTweetId are required")
		return
	}

	sourceText := s.tweetText(r.Context(), req.LoggedUserID, req.ReplyToTweetID)
	if sourceText == "" {
		utils.WriteError(w, http.StatusNotFound, "Could not fetch original tweet")
		return
	}

	aiReply := s.generator.GenerateWithPersona(r.Context(), req.Model, personaSystemPrompt, sourceText, req.CustomPrompt)

	var posted *twitter.Tweet
	err := s.dispatcher.Do(r.Context(), req.LoggedUserID, func(ctx context.Context, token string) error {
		var err error
		posted, err = s.twitter.Reply(ctx, token, aiReply, req.ReplyToTweetID)
		return err
	})
	if err != nil {
		s.writeActionError(w, err, "Failed to generate AI reply")
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"success":        true,
		"reply":          posted,
		"originalTweet":  sourceText,
		"generatedReply": aiReply,
		"model":          req.Model,
	})
}

func (s *Server) handleReplyPreview(w http.ResponseWriter, r *http.Request) {
	var req replyPayload
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LoggedUserID == "" || req.ReplyToTweetID == "" {
		utils.WriteError(w, http.StatusBadRequest, "loggedUserId and replyToTweetId are required")
		return
	}

	sourceText := s.tweetText(r.Context(), req.LoggedUserID, req.ReplyToTweetID)
	if sourceText == "" {
		utils.WriteError(w, http.StatusNotFound, "Could not fetch original tweet")
		return
	}

	aiReply := s.generator.Generate(r.Context(), sourceText, req.CustomPrompt)

	utils.WriteJSON(w, map[string]interface{}{
		"success":        true,
		"originalTweet":  sourceText,
		"generatedReply": aiReply,
		"model":          req.Model,
		"preview":        true,
	})
}

type engagePayload struct {
	LoggedUserID string `json:"loggedUserId"`
	TweetID      string `json:"tweetId"`
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	s.engage(w, r, "Failed to like tweet", func(ctx context.Context, token string, req *engagePayload) (interface{}, string, error) {
		res, err := s.twitter.Like(ctx, token, req.LoggedUserID, req.TweetID)
		if err != nil {
			return nil, "", err
		}
		return res.Liked, "liked", nil
	})
}

func (s *Server) handleUnlike(w http.ResponseWriter, r *http.Request) {
	s.engage(w, r, "Failed to unlike tweet", func(ctx context.Context, token string, req *engagePayload) (interface{}, string, error) {
		res, err := s.twitter.Unlike(ctx, token, req.LoggedUserID, req.TweetID)
		if err != nil {
			return nil, "", err
		}
		return res.Liked, "liked", nil
	})
}

func (s *Server) handleRetweet(w http.ResponseWriter, r *http.Request) {
	s.engage(w, r, "Failed to retweet", func(ctx context.Context, token string, req *engagePayload) (interface{}, string, error) {
		res, err := s.twitter.Retweet(ctx, token, req.LoggedUserID, req.TweetID)
		if err != nil {
			return nil, "", err
		}
		return res.Retweeted, "retweeted", nil
	})
}

func (s *Server) handleUnretweet(w http.ResponseWriter, r *http.Request) {
	s.engage(w, r, "Failed to unretweet", func(ctx context.Context, token string, req *engagePayload) (interface{}, string, error) {
		res, err := s.twitter.Unretweet(ctx, token, req.LoggedUserID, req.TweetID)
		if err != nil {
			return nil, "", err
		}
		return res.Retweeted, "retweeted", nil
	})
}

// engage runs one like/retweet style action through the dispatcher and
// shapes the {success, <field>: <value>} response.
func (s *Server) engage(w http.ResponseWriter, r *http.Request, failMsg string, action func(ctx context.Context, token string, req *engagePayload) (interface{}, string, error)) {
	var req engagePayload
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LoggedUserID == "" || req.TweetID == "" {
		utils.WriteError(w, http.StatusBadRequest, "loggedUserId and tweetId are required")
		return
	}

	var value interface{}
	var field string
	err := s.dispatcher.Do(r.Context(), req.LoggedUserID, func(ctx context.Context, token string) error {
		var err error
		value, field, err = action(ctx, token, &req)
		return err
	})
	if err != nil {
		s.writeActionError(w, err, failMsg)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"success": true,
		field:     value,
	})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("loggedUserId")

	var user *twitter.User
	err := s.dispatcher.Do(r.Context(), userID, func(ctx context.Context, token string) error {
		var err error
		user, err = s.twitter.Me(ctx, token)
		return err
	})
	if err != nil {
		s.writeActionError(w, err, "Failed to get user info")
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("loggedUserId")

	if err := s.store.Delete(r.Context(), userID); err != nil {
		logger.Error("logout failed", zap.String("user_id", userID), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to log out")
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// tweetText fetches the text of a tweet for generation context; failures
// degrade to an empty string, matching the best-effort generation path.
func (s *Server) tweetText(ctx context.Context, userID, tweetID string) string {
	var text string
	err := s.dispatcher.Do(ctx, userID, func(ctx context.Context, token string) error {
		t, err := s.twitter.GetTweet(ctx, token, tweetID)
		if err != nil {
			return err
		}
		text = t.Text
		return nil
	})
	if err != nil {
		logger.Warn("failed to fetch tweet for context", zap.String("tweet_id", tweetID), zap.Error(err))
		return ""
	}
	return text
}

func (s *Server) me(ctx context.Context, userID string) *twitter.User {
	var user *twitter.User
	err := s.dispatcher.Do(ctx, userID, func(ctx context.Context, token string) error {
		var err error
		user, err = s.twitter.Me(ctx, token)
		return err
	})
	if err != nil {
		return nil
	}
	return user
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(auth.DefaultPendingTTL / time.Second),
	})
}

func (s *Server) writeActionError(w http.ResponseWriter, err error, failMsg string) {
	if errors.Is(err, dispatch.ErrNotAuthenticated) {
		utils.WriteError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	logger.Error(failMsg, zap.Error(err))
	utils.WriteError(w, http.StatusInternalServerError, failMsg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
