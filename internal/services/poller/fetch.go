package poller

import (
	"context"
	"time"

	"tweetfwd/internal/storage"
	"tweetfwd/internal/twitter"
	logx "tweetfwd/pkg/logx"
)

// fetchAll polls every tracked account, oldest-fetched first, feeding each
// rewritten tweet into the ingester. It returns the ids of accounts polled
// successfully and the accounts flagged for cleanup.
//
// A rate-limit response aborts the rest of the run: the remaining accounts
// keep their old last_fetched_at and go first next tick.
func (s *Service) fetchAll(ctx context.Context, accounts []storage.TrackedAccount, ing *ingester) (updated []int64, cleanup []cleanupEntry, err error) {
	for _, acct := range accounts {
		if ctx.Err() != nil {
			return updated, cleanup, ctx.Err()
		}

		tweets, ferr := s.fetchAccount(ctx, acct)
		if ferr != nil {
			switch twitter.Classify(ferr) {
			case twitter.KindRateLimited:
				s.log.Debug("hit rate limit, deferring remaining accounts",
					logx.String("account", acct.ScreenName))
				return updated, cleanup, nil
			case twitter.KindForbidden:
				s.log.Debug("protected profile, flagging for cleanup",
					logx.String("account", acct.ScreenName))
				cleanup = append(cleanup, cleanupEntry{account: acct, reason: ReasonProtected})
				continue
			case twitter.KindNotFound:
				s.log.Debug("profile not found, flagging for cleanup",
					logx.String("account", acct.ScreenName))
				cleanup = append(cleanup, cleanupEntry{account: acct, reason: ReasonNotFound})
				continue
			default:
				s.log.Warn("timeline fetch failed",
					logx.String("account", acct.ScreenName), logx.Err(ferr))
				continue
			}
		}
		updated = append(updated, acct.ID)

		for i := range tweets {
			rec := s.rewrite(ctx, &tweets[i], acct.ID)
			if aerr := ing.Add(ctx, rec); aerr != nil {
				return updated, cleanup, aerr
			}
		}
	}
	return updated, cleanup, nil
}

func (s *Service) fetchAccount(ctx context.Context, acct storage.TrackedAccount) ([]twitter.Tweet, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	if acct.LastSeenTweetID == 0 {
		// Never captured anything: take just the newest tweet.
		s.log.Debug("fetching latest tweet", logx.String("account", acct.ScreenName))
		return s.tw.UserTimeline(ctx, acct.ScreenName, 0, 1)
	}
	s.log.Debug("fetching new tweets", logx.String("account", acct.ScreenName),
		logx.Int64("since_id", acct.LastSeenTweetID))
	return s.tw.UserTimeline(ctx, acct.ScreenName, acct.LastSeenTweetID, 0)
}

func (s *Service) touchUpdated(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if err := s.st.TouchAccounts(ctx, ids, time.Now()); err != nil {
		s.log.Warn("failed to advance fetch markers", logx.Err(err), logx.Int("accounts", len(ids)))
	}
}
