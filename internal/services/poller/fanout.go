package poller

import (
	"context"
	"strings"

	"tweetfwd/internal/storage"
	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
)

// fanoutNew delivers the single most recent stored post to every subscription
// that never received anything, so new subscribers get the latest post and
// not the whole history. Subscriptions on accounts with no captured posts yet
// are left untouched for the next run.
func (s *Service) fanoutNew(ctx context.Context) {
	subs, err := s.st.NewSubscriptions(ctx)
	if err != nil {
		s.log.Warn("listing new subscriptions failed", logx.Err(err))
		return
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		post, err := s.st.LatestPost(ctx, sub.AccountID)
		if err != nil {
			s.log.Warn("latest post lookup failed", logx.Err(err),
				logx.String("account", sub.ScreenName))
			continue
		}
		if post == nil {
			s.log.Debug("no posts captured yet", logx.String("account", sub.ScreenName),
				logx.Int64("chat_id", sub.TelegramChatID))
			continue
		}
		if err := s.deliver(ctx, sub, *post); err != nil {
			continue
		}
		if err := s.st.SetSubscriptionWatermark(ctx, sub.ID, post.TweetID); err != nil {
			s.log.Warn("watermark update failed", logx.Err(err), logx.Int64("sub_id", sub.ID))
		}
	}
}

// fanoutBacklog delivers, per subscription, every stored post newer than its
// watermark in ascending id order. The first failed delivery stops that
// subscription for this run; the watermark advances to the last post that
// actually went out.
func (s *Service) fanoutBacklog(ctx context.Context) {
	subs, err := s.st.BacklogSubscriptions(ctx)
	if err != nil {
		s.log.Warn("listing backlog subscriptions failed", logx.Err(err))
		return
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		posts, err := s.st.PostsAfter(ctx, sub.AccountID, sub.LastTweetID)
		if err != nil {
			s.log.Warn("backlog lookup failed", logx.Err(err),
				logx.String("account", sub.ScreenName))
			continue
		}

		delivered := sub.LastTweetID
		for _, p := range posts {
			if err := s.deliver(ctx, sub, p); err != nil {
				break
			}
			delivered = p.TweetID
		}
		if delivered > sub.LastTweetID {
			if err := s.st.SetSubscriptionWatermark(ctx, sub.ID, delivered); err != nil {
				s.log.Warn("watermark update failed", logx.Err(err), logx.Int64("sub_id", sub.ID))
			}
		}
	}
}

// deliver sends one post to one chat. A failure that indicates the chat is
// gone for good marks it for deletion; every failure is returned so the
// caller stops delivering to this subscription.
func (s *Service) deliver(ctx context.Context, sub storage.SubscriptionView, post storage.Post) error {
	text := formatPost(sub.ScreenName, post)
	to := kit.ChatTarget{ChatID: sub.TelegramChatID}

	cctx, cancel := s.callCtx(ctx)
	var err error
	if post.PhotoURL != "" {
		err = s.sender.SendPhoto(cctx, to, post.PhotoURL, text, nil)
	} else {
		err = s.sender.SendText(cctx, to, text, nil)
	}
	cancel()
	if err == nil {
		return nil
	}

	s.log.Info("delivery failed", logx.Int64("chat_id", sub.TelegramChatID),
		logx.String("account", sub.ScreenName), logx.Int64("tw_id", post.TweetID), logx.Err(err))
	s.maybeDropChat(ctx, sub.ChatID, sub.TelegramChatID, err)
	return err
}

// maybeDropChat marks the chat for deletion when the error says it is gone
// or the bot lost access.
func (s *Service) maybeDropChat(ctx context.Context, chatID, telegramID int64, err error) {
	switch kit.ClassifyDelivery(err) {
	case kit.DeliveryChatGone, kit.DeliveryUnauthorized:
		s.log.Info("marking chat for deletion", logx.Int64("chat_id", telegramID))
		if merr := s.st.MarkChatDeleteSoon(ctx, chatID); merr != nil {
			s.log.Warn("marking chat failed", logx.Err(merr), logx.Int64("chat_id", telegramID))
		}
	}
}

// formatPost renders the message body for one post: an author header, then
// the rewritten text.
func formatPost(screenName string, post storage.Post) string {
	var b strings.Builder
	b.WriteString("@")
	b.WriteString(screenName)
	if post.OriginalName != "" {
		b.WriteString(" RT @")
		b.WriteString(post.OriginalName)
	}
	b.WriteString(":\n")
	b.WriteString(post.Text)
	return b.String()
}
