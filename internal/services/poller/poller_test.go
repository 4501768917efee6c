package poller

import (
	"context"
	"time"

	"tweetfwd/internal/storage"
	kit "tweetfwd/internal/transport"
	"tweetfwd/internal/twitter"
	logx "tweetfwd/pkg/logx"
)

var _ Store = (*fakeStore)(nil)

// fakeStore is an in-memory Store recording every mutation.
type fakeStore struct {
	tracked  []storage.TrackedAccount
	countErr error

	existing map[int64]bool
	inserted [][]storage.Post
	touched  [][]int64

	latest     map[int64]*storage.Post
	postsAfter map[int64][]storage.Post

	newSubs       []storage.SubscriptionView
	backlogSubs   []storage.SubscriptionView
	subsByAccount map[int64][]storage.SubscriptionView

	watermarks      map[int64]int64
	deletedSubs     []int64
	deletedAccounts []int64
	markedChats     []int64
	sweepCalls      int
	sweepCount      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing:      map[int64]bool{},
		latest:        map[int64]*storage.Post{},
		postsAfter:    map[int64][]storage.Post{},
		subsByAccount: map[int64][]storage.SubscriptionView{},
		watermarks:    map[int64]int64{},
	}
}

func (f *fakeStore) TrackedAccounts(ctx context.Context) ([]storage.TrackedAccount, error) {
	return f.tracked, nil
}

func (f *fakeStore) CountTrackedAccounts(ctx context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.tracked), nil
}

func (f *fakeStore) TouchAccounts(ctx context.Context, ids []int64, now time.Time) error {
	f.touched = append(f.touched, ids)
	return nil
}

func (f *fakeStore) DeleteAccount(ctx context.Context, id int64) error {
	f.deletedAccounts = append(f.deletedAccounts, id)
	return nil
}

func (f *fakeStore) PostExists(ctx context.Context, tweetID int64) (bool, error) {
	return f.existing[tweetID], nil
}

func (f *fakeStore) InsertPosts(ctx context.Context, posts []storage.Post) error {
	batch := make([]storage.Post, len(posts))
	copy(batch, posts)
	f.inserted = append(f.inserted, batch)
	return nil
}

func (f *fakeStore) LatestPost(ctx context.Context, accountID int64) (*storage.Post, error) {
	return f.latest[accountID], nil
}

func (f *fakeStore) PostsAfter(ctx context.Context, accountID, sinceTweetID int64) ([]storage.Post, error) {
	var out []storage.Post
	for _, p := range f.postsAfter[accountID] {
		if p.TweetID > sinceTweetID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) NewSubscriptions(ctx context.Context) ([]storage.SubscriptionView, error) {
	return f.newSubs, nil
}

func (f *fakeStore) BacklogSubscriptions(ctx context.Context) ([]storage.SubscriptionView, error) {
	return f.backlogSubs, nil
}

func (f *fakeStore) SubscriptionsForAccount(ctx context.Context, accountID int64) ([]storage.SubscriptionView, error) {
	return f.subsByAccount[accountID], nil
}

func (f *fakeStore) DeleteSubscription(ctx context.Context, id int64) error {
	f.deletedSubs = append(f.deletedSubs, id)
	return nil
}

func (f *fakeStore) SetSubscriptionWatermark(ctx context.Context, id, tweetID int64) error {
	if f.watermarks[id] < tweetID {
		f.watermarks[id] = tweetID
	}
	return nil
}

func (f *fakeStore) MarkChatDeleteSoon(ctx context.Context, chatID int64) error {
	f.markedChats = append(f.markedChats, chatID)
	return nil
}

func (f *fakeStore) SweepChats(ctx context.Context) (int, error) {
	f.sweepCalls++
	return f.sweepCount, nil
}

type fakeTimeline struct {
	timelineFn func(screenName string, sinceID int64, count int) ([]twitter.Tweet, error)
	statusFn   func(id int64) (*twitter.Tweet, error)
}

func (f *fakeTimeline) UserTimeline(ctx context.Context, screenName string, sinceID int64, count int) ([]twitter.Tweet, error) {
	if f.timelineFn == nil {
		return nil, nil
	}
	return f.timelineFn(screenName, sinceID, count)
}

func (f *fakeTimeline) Status(ctx context.Context, id int64) (*twitter.Tweet, error) {
	if f.statusFn == nil {
		return nil, &twitter.APIError{Kind: twitter.KindNotFound, StatusCode: 404}
	}
	return f.statusFn(id)
}

type sentMessage struct {
	ChatID   int64
	Text     string
	PhotoURL string
}

type fakeSender struct {
	sent   []sentMessage
	failFn func(chatID int64, text string) error
}

func (f *fakeSender) send(chatID int64, text, photoURL string) error {
	if f.failFn != nil {
		if err := f.failFn(chatID, text); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, PhotoURL: photoURL})
	return nil
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	return f.send(to.ChatID, text, "")
}

func (f *fakeSender) SendPhoto(ctx context.Context, to kit.ChatTarget, photoURL, caption string, opt *kit.SendOptions) error {
	return f.send(to.ChatID, caption, photoURL)
}

func newTestService(st *fakeStore, tw Timeline, sender kit.Sender) *Service {
	if tw == nil {
		tw = &fakeTimeline{}
	}
	if sender == nil {
		sender = &fakeSender{}
	}
	return New(Config{Enabled: true, RequestTimeout: time.Second}, st, tw, sender, logx.Nop())
}

func subView(id, chatID, accountID, lastTweetID, telegramID int64, screenName string) storage.SubscriptionView {
	return storage.SubscriptionView{
		Subscription: storage.Subscription{
			ID:          id,
			ChatID:      chatID,
			AccountID:   accountID,
			LastTweetID: lastTweetID,
		},
		TelegramChatID: telegramID,
		ScreenName:     screenName,
	}
}
