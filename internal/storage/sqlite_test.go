package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "tweetfwd/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGetOrCreateAccount(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, err := st.GetOrCreateAccount(ctx, "@Someone")
	if err != nil {
		t.Fatalf("GetOrCreateAccount: %v", err)
	}
	if a.ScreenName != "Someone" {
		t.Fatalf("ScreenName = %q, want the @ stripped", a.ScreenName)
	}
	if !a.LastFetchedAt.IsZero() {
		t.Fatalf("LastFetchedAt = %v, want zero for a new account", a.LastFetchedAt)
	}

	again, err := st.GetOrCreateAccount(ctx, "someone")
	if err != nil {
		t.Fatalf("GetOrCreateAccount again: %v", err)
	}
	if again.ID != a.ID {
		t.Fatalf("case-insensitive lookup created a second row: %d vs %d", again.ID, a.ID)
	}

	if _, err := st.GetOrCreateAccount(ctx, "  "); err == nil {
		t.Fatal("expected error for empty screen name")
	}
}

func TestAccountByScreenNameMissing(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	a, err := st.AccountByScreenName(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("AccountByScreenName: %v", err)
	}
	if a != nil {
		t.Fatalf("got %+v, want nil for an untracked name", a)
	}
}

func TestTrackedAccountsOrderAndWatermark(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	old, _ := st.GetOrCreateAccount(ctx, "old")
	fresh, _ := st.GetOrCreateAccount(ctx, "fresh")
	if _, err := st.GetOrCreateAccount(ctx, "nobody_subscribed"); err != nil {
		t.Fatalf("GetOrCreateAccount: %v", err)
	}

	chat, err := st.UpsertChat(ctx, 500)
	if err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}
	if _, err := st.CreateSubscription(ctx, chat.ID, old.ID); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if _, err := st.CreateSubscription(ctx, chat.ID, fresh.ID); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	now := time.Now()
	if err := st.TouchAccounts(ctx, []int64{old.ID}, now.Add(-time.Hour)); err != nil {
		t.Fatalf("TouchAccounts: %v", err)
	}
	if err := st.TouchAccounts(ctx, []int64{fresh.ID}, now); err != nil {
		t.Fatalf("TouchAccounts: %v", err)
	}
	if err := st.InsertPosts(ctx, []Post{
		{TweetID: 7, Text: "a", CreatedAt: now, AccountID: old.ID},
		{TweetID: 9, Text: "b", CreatedAt: now, AccountID: old.ID},
	}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}

	tracked, err := st.TrackedAccounts(ctx)
	if err != nil {
		t.Fatalf("TrackedAccounts: %v", err)
	}
	if len(tracked) != 2 {
		t.Fatalf("tracked = %d accounts, want 2 (unsubscribed one excluded)", len(tracked))
	}
	if tracked[0].ID != old.ID {
		t.Fatalf("first tracked = %d, want the least recently fetched", tracked[0].ID)
	}
	if tracked[0].LastSeenTweetID != 9 {
		t.Fatalf("LastSeenTweetID = %d, want the highest stored id 9", tracked[0].LastSeenTweetID)
	}
	if tracked[1].LastSeenTweetID != 0 {
		t.Fatalf("LastSeenTweetID = %d for an account with no posts", tracked[1].LastSeenTweetID)
	}

	n, err := st.CountTrackedAccounts(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CountTrackedAccounts = %d, %v; want 2", n, err)
	}
}

func TestInsertPostsIgnoresDuplicates(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, _ := st.GetOrCreateAccount(ctx, "writer")
	now := time.Now()
	posts := []Post{{TweetID: 1, Text: "x", CreatedAt: now, AccountID: a.ID}}
	if err := st.InsertPosts(ctx, posts); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}
	if err := st.InsertPosts(ctx, posts); err != nil {
		t.Fatalf("InsertPosts (dup): %v", err)
	}

	ok, err := st.PostExists(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("PostExists = %v, %v", ok, err)
	}
	got, err := st.PostsAfter(ctx, a.ID, 0)
	if err != nil {
		t.Fatalf("PostsAfter: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d rows, want 1", len(got))
	}
}

func TestPostsAfterAscendingAndLatest(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, _ := st.GetOrCreateAccount(ctx, "writer")
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	if err := st.InsertPosts(ctx, []Post{
		{TweetID: 13, Text: "three", CreatedAt: now, AccountID: a.ID},
		{TweetID: 11, Text: "one", CreatedAt: now, AccountID: a.ID},
		{TweetID: 12, Text: "two", CreatedAt: now, AccountID: a.ID},
	}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}

	got, err := st.PostsAfter(ctx, a.ID, 11)
	if err != nil {
		t.Fatalf("PostsAfter: %v", err)
	}
	if len(got) != 2 || got[0].TweetID != 12 || got[1].TweetID != 13 {
		t.Fatalf("PostsAfter = %+v, want ids 12,13 ascending", got)
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt round-trip = %v, want %v", got[0].CreatedAt, now)
	}

	latest, err := st.LatestPost(ctx, a.ID)
	if err != nil {
		t.Fatalf("LatestPost: %v", err)
	}
	if latest == nil || latest.TweetID != 13 {
		t.Fatalf("LatestPost = %+v, want id 13", latest)
	}

	empty, err := st.LatestPost(ctx, a.ID+999)
	if err != nil || empty != nil {
		t.Fatalf("LatestPost for unknown account = %+v, %v", empty, err)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, _ := st.GetOrCreateAccount(ctx, "someone")
	chat, _ := st.UpsertChat(ctx, 600)

	created, err := st.CreateSubscription(ctx, chat.ID, a.ID)
	if err != nil || !created {
		t.Fatalf("CreateSubscription = %v, %v", created, err)
	}
	created, err = st.CreateSubscription(ctx, chat.ID, a.ID)
	if err != nil || created {
		t.Fatalf("duplicate CreateSubscription = %v, %v; want false", created, err)
	}

	n, err := st.AccountSubscriptionCount(ctx, a.ID)
	if err != nil || n != 1 {
		t.Fatalf("AccountSubscriptionCount = %d, %v", n, err)
	}

	removed, err := st.RemoveSubscription(ctx, chat.ID, a.ID)
	if err != nil || !removed {
		t.Fatalf("RemoveSubscription = %v, %v", removed, err)
	}
	removed, err = st.RemoveSubscription(ctx, chat.ID, a.ID)
	if err != nil || removed {
		t.Fatalf("second RemoveSubscription = %v, %v; want false", removed, err)
	}
}

func TestWatermarkOnlyMovesForward(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, _ := st.GetOrCreateAccount(ctx, "someone")
	chat, _ := st.UpsertChat(ctx, 700)
	if _, err := st.CreateSubscription(ctx, chat.ID, a.ID); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	subs, err := st.SubscriptionsForChat(ctx, chat.ID)
	if err != nil || len(subs) != 1 {
		t.Fatalf("SubscriptionsForChat = %v, %v", subs, err)
	}
	id := subs[0].ID

	if err := st.SetSubscriptionWatermark(ctx, id, 50); err != nil {
		t.Fatalf("SetSubscriptionWatermark: %v", err)
	}
	if err := st.SetSubscriptionWatermark(ctx, id, 40); err != nil {
		t.Fatalf("SetSubscriptionWatermark (backward): %v", err)
	}
	subs, _ = st.SubscriptionsForChat(ctx, chat.ID)
	if subs[0].LastTweetID != 50 {
		t.Fatalf("watermark = %d, want 50 (never moves backward)", subs[0].LastTweetID)
	}
}

func TestNewAndBacklogSubscriptions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, _ := st.GetOrCreateAccount(ctx, "someone")
	chat, _ := st.UpsertChat(ctx, 800)
	if _, err := st.CreateSubscription(ctx, chat.ID, a.ID); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	now := time.Now()
	if err := st.InsertPosts(ctx, []Post{
		{TweetID: 20, Text: "a", CreatedAt: now, AccountID: a.ID},
		{TweetID: 21, Text: "b", CreatedAt: now, AccountID: a.ID},
	}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}

	fresh, err := st.NewSubscriptions(ctx)
	if err != nil || len(fresh) != 1 {
		t.Fatalf("NewSubscriptions = %v, %v; want 1", fresh, err)
	}
	if fresh[0].ScreenName != "someone" || fresh[0].TelegramChatID != 800 {
		t.Fatalf("view fields = %+v", fresh[0])
	}
	backlog, err := st.BacklogSubscriptions(ctx)
	if err != nil || len(backlog) != 0 {
		t.Fatalf("BacklogSubscriptions = %v, %v; a never-delivered sub is not backlog", backlog, err)
	}

	if err := st.SetSubscriptionWatermark(ctx, fresh[0].ID, 20); err != nil {
		t.Fatalf("SetSubscriptionWatermark: %v", err)
	}
	fresh, _ = st.NewSubscriptions(ctx)
	if len(fresh) != 0 {
		t.Fatalf("NewSubscriptions after delivery = %v", fresh)
	}
	backlog, _ = st.BacklogSubscriptions(ctx)
	if len(backlog) != 1 || backlog[0].LastTweetID != 20 {
		t.Fatalf("BacklogSubscriptions = %+v, want the sub behind id 21", backlog)
	}

	if err := st.SetSubscriptionWatermark(ctx, backlog[0].ID, 21); err != nil {
		t.Fatalf("SetSubscriptionWatermark: %v", err)
	}
	backlog, _ = st.BacklogSubscriptions(ctx)
	if len(backlog) != 0 {
		t.Fatalf("BacklogSubscriptions after catch-up = %v", backlog)
	}
}

func TestDeleteAccountCascadesSubscriptionsKeepsPosts(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, _ := st.GetOrCreateAccount(ctx, "doomed")
	chat, _ := st.UpsertChat(ctx, 900)
	if _, err := st.CreateSubscription(ctx, chat.ID, a.ID); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if err := st.InsertPosts(ctx, []Post{
		{TweetID: 30, Text: "kept", CreatedAt: time.Now(), AccountID: a.ID},
	}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}

	if err := st.DeleteAccount(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	subs, err := st.SubscriptionsForChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("SubscriptionsForChat: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("subscriptions survived the account: %+v", subs)
	}
	ok, err := st.PostExists(ctx, 30)
	if err != nil || !ok {
		t.Fatalf("PostExists = %v, %v; posts must outlive their account", ok, err)
	}
}

func TestSweepChats(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a, _ := st.GetOrCreateAccount(ctx, "someone")
	keep, _ := st.UpsertChat(ctx, 1000)
	drop, _ := st.UpsertChat(ctx, 1001)
	if _, err := st.CreateSubscription(ctx, keep.ID, a.ID); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if _, err := st.CreateSubscription(ctx, drop.ID, a.ID); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if err := st.MarkChatDeleteSoon(ctx, drop.ID); err != nil {
		t.Fatalf("MarkChatDeleteSoon: %v", err)
	}

	n, err := st.SweepChats(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SweepChats = %d, %v; want 1", n, err)
	}

	subs, err := st.SubscriptionsForAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("SubscriptionsForAccount: %v", err)
	}
	if len(subs) != 1 || subs[0].TelegramChatID != 1000 {
		t.Fatalf("remaining subs = %+v, want only the kept chat", subs)
	}

	again, err := st.UpsertChat(ctx, 1001)
	if err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}
	if again.DeleteSoon {
		t.Fatal("re-created chat still flagged delete_soon")
	}
}

func TestMaintain(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if err := st.Maintain(context.Background()); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
}
