package poller

import (
	"context"
	"fmt"

	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
)

var cleanupNotices = map[Reason]string{
	ReasonNotFound:  "Your subscription to @%s was removed because that profile doesn't exist anymore. Maybe the account's name changed?",
	ReasonProtected: "Your subscription to @%s was removed because that profile is protected and can't be fetched.",
}

// cleanup removes every account flagged during fetch together with its
// subscriptions, notifying the affected chats, then sweeps chats marked for
// deletion.
//
// Chats already marked delete_soon get no notice; their subscriptions fall
// with the account (or with the chat in the sweep).
func (s *Service) cleanup(ctx context.Context, entries []cleanupEntry) {
	if len(entries) == 0 {
		s.log.Debug("nothing to clean up")
	}
	for _, e := range entries {
		s.log.Debug("cleaning up subscriptions",
			logx.String("account", e.account.ScreenName), logx.String("reason", string(e.reason)))
		notice := fmt.Sprintf(cleanupNotices[e.reason], e.account.ScreenName)

		subs, err := s.st.SubscriptionsForAccount(ctx, e.account.ID)
		if err != nil {
			s.log.Warn("listing subscriptions for cleanup failed", logx.Err(err),
				logx.String("account", e.account.ScreenName))
			continue
		}
		for _, sub := range subs {
			if sub.ChatDeleteSoon {
				s.log.Debug("skipping chat pending deletion", logx.Int64("chat_id", sub.TelegramChatID))
				continue
			}
			if err := s.st.DeleteSubscription(ctx, sub.ID); err != nil {
				s.log.Warn("subscription delete failed", logx.Err(err), logx.Int64("sub_id", sub.ID))
				continue
			}
			s.notifyRemoved(ctx, sub.ChatID, sub.TelegramChatID, e.account.ScreenName, notice)
		}

		if err := s.st.DeleteAccount(ctx, e.account.ID); err != nil {
			s.log.Warn("account delete failed", logx.Err(err),
				logx.String("account", e.account.ScreenName))
		}
	}

	n, err := s.st.SweepChats(ctx)
	if err != nil {
		s.log.Warn("chat sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("swept chats marked for deletion", logx.Int("count", n))
	}
}

func (s *Service) notifyRemoved(ctx context.Context, chatID, telegramID int64, screenName, notice string) {
	cctx, cancel := s.callCtx(ctx)
	err := s.sender.SendText(cctx, kit.ChatTarget{ChatID: telegramID}, notice, nil)
	cancel()
	if err == nil {
		return
	}
	s.log.Info("couldn't send unsubscription notice",
		logx.String("account", screenName), logx.Int64("chat_id", telegramID), logx.Err(err))
	s.maybeDropChat(ctx, chatID, telegramID, err)
}
