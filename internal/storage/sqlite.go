package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tweetfwd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Maintain compacts the database. Scheduled off-peak via cron.
func (s *Store) Maintain(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// ---- accounts ----

func (s *Store) GetOrCreateAccount(ctx context.Context, screenName string) (Account, error) {
	screenName = strings.TrimPrefix(strings.TrimSpace(screenName), "@")
	if screenName == "" {
		return Account{}, errors.New("empty screen name")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(screen_name) VALUES(?)
		 ON CONFLICT(screen_name) DO NOTHING`, screenName)
	if err != nil {
		return Account{}, err
	}
	var a Account
	var fetched int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id, screen_name, last_fetched_at FROM accounts WHERE screen_name = ?`,
		screenName).Scan(&a.ID, &a.ScreenName, &fetched)
	if err != nil {
		return Account{}, err
	}
	a.LastFetchedAt = msToTime(fetched)
	return a, nil
}

// AccountByScreenName returns the account, or nil when it is not tracked.
func (s *Store) AccountByScreenName(ctx context.Context, screenName string) (*Account, error) {
	screenName = strings.TrimPrefix(strings.TrimSpace(screenName), "@")
	var a Account
	var fetched int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, screen_name, last_fetched_at FROM accounts WHERE screen_name = ?`,
		screenName).Scan(&a.ID, &a.ScreenName, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.LastFetchedAt = msToTime(fetched)
	return &a, nil
}

// TrackedAccounts returns accounts having at least one subscription, joined
// with their highest stored post id, ordered by last fetch time ascending so
// the least recently served account goes first.
func (s *Store) TrackedAccounts(ctx context.Context) ([]TrackedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.screen_name, a.last_fetched_at,
		       COALESCE((SELECT MAX(p.tw_id) FROM posts p WHERE p.account_id = a.id), 0)
		FROM accounts a
		WHERE EXISTS (SELECT 1 FROM subscriptions s WHERE s.account_id = a.id)
		ORDER BY a.last_fetched_at ASC, a.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackedAccount
	for rows.Next() {
		var ta TrackedAccount
		var fetched int64
		if err := rows.Scan(&ta.ID, &ta.ScreenName, &fetched, &ta.LastSeenTweetID); err != nil {
			return nil, err
		}
		ta.LastFetchedAt = msToTime(fetched)
		out = append(out, ta)
	}
	return out, rows.Err()
}

func (s *Store) CountTrackedAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT account_id) FROM subscriptions`).Scan(&n)
	return n, err
}

// TouchAccounts batch-updates last_fetched_at for every account that was
// successfully polled this run.
func (s *Store) TouchAccounts(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`UPDATE accounts SET last_fetched_at = ? WHERE id IN (%s)`, placeholders(len(ids)))
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

// AccountSubscriptionCount reports how many subscriptions still point at the
// account; the command layer prunes accounts that reach zero.
func (s *Store) AccountSubscriptionCount(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE account_id = ?`, accountID).Scan(&n)
	return n, err
}

// ---- posts ----

func (s *Store) PostExists(ctx context.Context, tweetID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM posts WHERE tw_id = ?`, tweetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertPosts writes a batch in one transaction. The pipeline checks for
// duplicates before queueing; ON CONFLICT DO NOTHING keeps a race with a
// concurrent run from failing the whole batch.
func (s *Store) InsertPosts(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts(tw_id, text, created_at, account_id, photo_url, original_name)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(tw_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range posts {
		if _, err := stmt.ExecContext(ctx,
			p.TweetID, p.Text, p.CreatedAt.UTC().Format(time.RFC3339Nano),
			p.AccountID, p.PhotoURL, p.OriginalName); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestPost returns the newest stored post for an account, or nil when
// nothing was captured yet.
func (s *Store) LatestPost(ctx context.Context, accountID int64) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tw_id, text, created_at, account_id, photo_url, original_name
		FROM posts WHERE account_id = ?
		ORDER BY tw_id DESC LIMIT 1`, accountID)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PostsAfter returns the account's posts with tw_id above the watermark,
// ascending, so delivery preserves upstream order.
func (s *Store) PostsAfter(ctx context.Context, accountID, sinceTweetID int64) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tw_id, text, created_at, account_id, photo_url, original_name
		FROM posts WHERE account_id = ? AND tw_id > ?
		ORDER BY tw_id ASC`, accountID, sinceTweetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- chats ----

func (s *Store) UpsertChat(ctx context.Context, telegramID int64) (Chat, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(telegram_id) VALUES(?)
		 ON CONFLICT(telegram_id) DO NOTHING`, telegramID)
	if err != nil {
		return Chat{}, err
	}
	var c Chat
	var del int
	err = s.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, delete_soon FROM chats WHERE telegram_id = ?`,
		telegramID).Scan(&c.ID, &c.TelegramID, &del)
	if err != nil {
		return Chat{}, err
	}
	c.DeleteSoon = del != 0
	return c, nil
}

func (s *Store) MarkChatDeleteSoon(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET delete_soon = 1 WHERE id = ?`, chatID)
	return err
}

// SweepChats deletes every chat marked delete_soon, cascading its remaining
// subscriptions. Returns the number of chats removed.
func (s *Store) SweepChats(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM subscriptions
		WHERE chat_id IN (SELECT id FROM chats WHERE delete_soon = 1)`); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE delete_soon = 1`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

// ---- subscriptions ----

func (s *Store) CreateSubscription(ctx context.Context, chatID, accountID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(chat_id, account_id) VALUES(?,?)
		 ON CONFLICT(chat_id, account_id) DO NOTHING`, chatID, accountID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) RemoveSubscription(ctx context.Context, chatID, accountID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE chat_id = ? AND account_id = ?`, chatID, accountID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	return err
}

func (s *Store) SetSubscriptionWatermark(ctx context.Context, id, tweetID int64) error {
	// Watermarks only move forward.
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_tweet_id = ? WHERE id = ? AND last_tweet_id < ?`,
		tweetID, id, tweetID)
	return err
}

const subscriptionViewSelect = `
	SELECT s.id, s.chat_id, s.account_id, s.last_tweet_id,
	       c.telegram_id, c.delete_soon, a.screen_name
	FROM subscriptions s
	JOIN chats c ON c.id = s.chat_id
	JOIN accounts a ON a.id = s.account_id`

// NewSubscriptions returns subscriptions that never had anything delivered.
func (s *Store) NewSubscriptions(ctx context.Context) ([]SubscriptionView, error) {
	return s.querySubscriptions(ctx,
		subscriptionViewSelect+` WHERE s.last_tweet_id = 0 ORDER BY s.id ASC`)
}

// BacklogSubscriptions returns subscriptions whose watermark is below the
// highest stored post id of their account.
func (s *Store) BacklogSubscriptions(ctx context.Context) ([]SubscriptionView, error) {
	return s.querySubscriptions(ctx, subscriptionViewSelect+`
		WHERE s.last_tweet_id > 0
		  AND s.last_tweet_id < COALESCE(
		      (SELECT MAX(p.tw_id) FROM posts p WHERE p.account_id = s.account_id), 0)
		ORDER BY s.id ASC`)
}

func (s *Store) SubscriptionsForAccount(ctx context.Context, accountID int64) ([]SubscriptionView, error) {
	return s.querySubscriptions(ctx,
		subscriptionViewSelect+` WHERE s.account_id = ? ORDER BY s.id ASC`, accountID)
}

func (s *Store) SubscriptionsForChat(ctx context.Context, chatID int64) ([]SubscriptionView, error) {
	return s.querySubscriptions(ctx,
		subscriptionViewSelect+` WHERE s.chat_id = ? ORDER BY a.screen_name ASC`, chatID)
}

func (s *Store) querySubscriptions(ctx context.Context, q string, args ...any) ([]SubscriptionView, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriptionView
	for rows.Next() {
		var v SubscriptionView
		var del int
		if err := rows.Scan(&v.ID, &v.ChatID, &v.AccountID, &v.LastTweetID,
			&v.TelegramChatID, &del, &v.ScreenName); err != nil {
			return nil, err
		}
		v.ChatDeleteSoon = del != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (Post, error) {
	var p Post
	var created string
	if err := r.Scan(&p.ID, &p.TweetID, &p.Text, &created,
		&p.AccountID, &p.PhotoURL, &p.OriginalName); err != nil {
		return Post{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		p.CreatedAt = t
	}
	return p, nil
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
