package poller

import (
	"context"

	"tweetfwd/internal/storage"
	logx "tweetfwd/pkg/logx"
)

// insertBatchSize bounds how many captured posts accumulate before being
// flushed to storage in one transaction.
const insertBatchSize = 100

// ingester filters already-stored tweet ids and batches the rest for
// insertion.
type ingester struct {
	st  Store
	log logx.Logger

	queue    []storage.Post
	inserted int
	dropped  int
}

func newIngester(st Store, log logx.Logger) *ingester {
	return &ingester{st: st, log: log}
}

func (b *ingester) Add(ctx context.Context, p storage.Post) error {
	exists, err := b.st.PostExists(ctx, p.TweetID)
	if err != nil {
		return err
	}
	if exists {
		b.dropped++
		b.log.Warn("duplicate tweet id, dropping",
			logx.Int64("tw_id", p.TweetID), logx.Int64("account_id", p.AccountID))
		return nil
	}
	b.queue = append(b.queue, p)
	if len(b.queue) >= insertBatchSize {
		return b.Flush(ctx)
	}
	return nil
}

func (b *ingester) Flush(ctx context.Context) error {
	if len(b.queue) == 0 {
		return nil
	}
	if err := b.st.InsertPosts(ctx, b.queue); err != nil {
		return err
	}
	b.inserted += len(b.queue)
	b.queue = b.queue[:0]
	return nil
}

func (b *ingester) Pending() int { return len(b.queue) }
