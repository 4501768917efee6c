package poller

import (
	"context"
	"time"

	"tweetfwd/internal/storage"
	"tweetfwd/internal/twitter"
)

// Timeline is the upstream read API.
type Timeline interface {
	UserTimeline(ctx context.Context, screenName string, sinceID int64, count int) ([]twitter.Tweet, error)
	Status(ctx context.Context, id int64) (*twitter.Tweet, error)
}

// Store is the slice of the persistence layer the pipeline drives.
type Store interface {
	TrackedAccounts(ctx context.Context) ([]storage.TrackedAccount, error)
	CountTrackedAccounts(ctx context.Context) (int, error)
	TouchAccounts(ctx context.Context, ids []int64, now time.Time) error
	DeleteAccount(ctx context.Context, id int64) error

	PostExists(ctx context.Context, tweetID int64) (bool, error)
	InsertPosts(ctx context.Context, posts []storage.Post) error
	LatestPost(ctx context.Context, accountID int64) (*storage.Post, error)
	PostsAfter(ctx context.Context, accountID, sinceTweetID int64) ([]storage.Post, error)

	NewSubscriptions(ctx context.Context) ([]storage.SubscriptionView, error)
	BacklogSubscriptions(ctx context.Context) ([]storage.SubscriptionView, error)
	SubscriptionsForAccount(ctx context.Context, accountID int64) ([]storage.SubscriptionView, error)
	DeleteSubscription(ctx context.Context, id int64) error
	SetSubscriptionWatermark(ctx context.Context, id, tweetID int64) error

	MarkChatDeleteSoon(ctx context.Context, chatID int64) error
	SweepChats(ctx context.Context) (int, error)
}

// Reason records why an account is being cleaned up.
type Reason string

const (
	ReasonProtected Reason = "PROTECTED"
	ReasonNotFound  Reason = "NOTFOUND"
)

type cleanupEntry struct {
	account storage.TrackedAccount
	reason  Reason
}
