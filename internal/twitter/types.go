package twitter

// User is the authenticated account identity from /users/me.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Tweet is a published or fetched tweet.
type Tweet struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"author_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// LikeResult reports the like state after a like/unlike call.
type LikeResult struct {
	Liked bool `json:"liked"`
}

// RetweetResult reports the retweet state after a retweet/unretweet call.
type RetweetResult struct {
	Retweeted bool `json:"retweeted"`
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
	Reply *tweetReply `json:"reply,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}
