package storage

import "time"

type Config struct {
	Path        string
	BusyTimeout time.Duration // sqlite busy_timeout pragma; 0 means default
}

// Account is a tracked upstream profile. An account exists only while at
// least one subscription points at it; cleanup removes orphans.
type Account struct {
	ID         int64
	ScreenName string
	// LastFetchedAt is zero for accounts that were never polled. The fetch
	// order (oldest first) relies on it.
	LastFetchedAt time.Time
}

// TrackedAccount is an Account joined with its fetch watermark: the highest
// stored post id, 0 when nothing was ever captured for it.
type TrackedAccount struct {
	Account
	LastSeenTweetID int64
}

// Post is a captured tweet after rewriting. Immutable once stored.
type Post struct {
	ID        int64
	TweetID   int64
	Text      string
	CreatedAt time.Time
	AccountID int64
	PhotoURL  string
	// OriginalName is the author whose content was actually shown, set only
	// for retweets.
	OriginalName string
}

// Chat is a Telegram destination.
type Chat struct {
	ID         int64
	TelegramID int64
	DeleteSoon bool
}

// Subscription links a chat to an account. LastTweetID is the delivery
// watermark: the highest post id already sent to that chat.
type Subscription struct {
	ID          int64
	ChatID      int64 // chats.id (row id, not the Telegram chat id)
	AccountID   int64
	LastTweetID int64
}

// SubscriptionView is a Subscription joined with the fields the pipeline
// needs to deliver and clean up without extra lookups.
type SubscriptionView struct {
	Subscription
	TelegramChatID int64
	ChatDeleteSoon bool
	ScreenName     string
}
