package commands

import (
	"context"
	"strings"

	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
)

func (s *Service) cmdSub(ctx context.Context, log logx.Logger, m *kit.Message, args []string) {
	if len(args) == 0 {
		s.reply(ctx, m, "Usage: /sub <username> [username ..]")
		return
	}
	chat, err := s.st.UpsertChat(ctx, m.ChatID)
	if err != nil {
		log.Warn("chat upsert failed", logx.Err(err))
		s.reply(ctx, m, "Something went wrong, try again later.")
		return
	}

	var added, existing, invalid []string
	for _, raw := range args {
		name, ok := normalizeScreenName(raw)
		if !ok {
			invalid = append(invalid, raw)
			continue
		}
		acct, err := s.st.GetOrCreateAccount(ctx, name)
		if err != nil {
			log.Warn("account create failed", logx.String("account", name), logx.Err(err))
			invalid = append(invalid, raw)
			continue
		}
		created, err := s.st.CreateSubscription(ctx, chat.ID, acct.ID)
		if err != nil {
			log.Warn("subscription create failed", logx.String("account", name), logx.Err(err))
			invalid = append(invalid, raw)
			continue
		}
		if created {
			added = append(added, acct.ScreenName)
		} else {
			existing = append(existing, acct.ScreenName)
		}
	}

	var b strings.Builder
	if len(added) > 0 {
		b.WriteString("Subscribed to @" + strings.Join(added, ", @") + ". The latest tweet arrives with the next fetch.")
	}
	if len(existing) > 0 {
		appendLine(&b, "Already subscribed to @"+strings.Join(existing, ", @")+".")
	}
	if len(invalid) > 0 {
		appendLine(&b, "Not valid usernames: "+strings.Join(invalid, ", "))
	}
	s.reply(ctx, m, b.String())
}

func (s *Service) cmdUnsub(ctx context.Context, log logx.Logger, m *kit.Message, args []string) {
	if len(args) == 0 {
		s.reply(ctx, m, "Usage: /unsub <username> [username ..]")
		return
	}
	chat, err := s.st.UpsertChat(ctx, m.ChatID)
	if err != nil {
		log.Warn("chat upsert failed", logx.Err(err))
		s.reply(ctx, m, "Something went wrong, try again later.")
		return
	}

	var removed, missing []string
	for _, raw := range args {
		name, ok := normalizeScreenName(raw)
		if !ok {
			missing = append(missing, raw)
			continue
		}
		acct, err := s.st.AccountByScreenName(ctx, name)
		if err != nil {
			log.Warn("account lookup failed", logx.String("account", name), logx.Err(err))
			continue
		}
		if acct == nil {
			missing = append(missing, raw)
			continue
		}
		ok, err = s.st.RemoveSubscription(ctx, chat.ID, acct.ID)
		if err != nil {
			log.Warn("subscription remove failed", logx.String("account", name), logx.Err(err))
			continue
		}
		if !ok {
			missing = append(missing, raw)
			continue
		}
		removed = append(removed, acct.ScreenName)
		s.pruneOrphanAccount(ctx, log, acct.ID, acct.ScreenName)
	}

	var b strings.Builder
	if len(removed) > 0 {
		b.WriteString("Unsubscribed from @" + strings.Join(removed, ", @") + ".")
	}
	if len(missing) > 0 {
		appendLine(&b, "No subscription here for: "+strings.Join(missing, ", "))
	}
	s.reply(ctx, m, b.String())
}

// pruneOrphanAccount deletes an account once its last subscription is gone,
// so it is no longer fetched.
func (s *Service) pruneOrphanAccount(ctx context.Context, log logx.Logger, accountID int64, screenName string) {
	n, err := s.st.AccountSubscriptionCount(ctx, accountID)
	if err != nil {
		log.Warn("subscription count failed", logx.String("account", screenName), logx.Err(err))
		return
	}
	if n > 0 {
		return
	}
	if err := s.st.DeleteAccount(ctx, accountID); err != nil {
		log.Warn("orphan account delete failed", logx.String("account", screenName), logx.Err(err))
		return
	}
	log.Debug("deleted orphan account", logx.String("account", screenName))
}

func (s *Service) cmdList(ctx context.Context, log logx.Logger, m *kit.Message) {
	names, ok := s.chatSubscriptionNames(ctx, log, m)
	if !ok {
		s.reply(ctx, m, "Something went wrong, try again later.")
		return
	}
	if len(names) == 0 {
		s.reply(ctx, m, "This chat has no subscriptions yet. Add one with /sub <username>.")
		return
	}
	s.reply(ctx, m, "Subscriptions:\n@"+strings.Join(names, "\n@"))
}

func (s *Service) cmdExport(ctx context.Context, log logx.Logger, m *kit.Message) {
	names, ok := s.chatSubscriptionNames(ctx, log, m)
	if !ok {
		s.reply(ctx, m, "Something went wrong, try again later.")
		return
	}
	if len(names) == 0 {
		s.reply(ctx, m, "This chat has no subscriptions yet. Add one with /sub <username>.")
		return
	}
	s.reply(ctx, m, "/sub "+strings.Join(names, " "))
}

func (s *Service) chatSubscriptionNames(ctx context.Context, log logx.Logger, m *kit.Message) ([]string, bool) {
	chat, err := s.st.UpsertChat(ctx, m.ChatID)
	if err != nil {
		log.Warn("chat upsert failed", logx.Err(err))
		return nil, false
	}
	subs, err := s.st.SubscriptionsForChat(ctx, chat.ID)
	if err != nil {
		log.Warn("listing subscriptions failed", logx.Err(err))
		return nil, false
	}
	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, sub.ScreenName)
	}
	return names, true
}

func appendLine(b *strings.Builder, line string) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(line)
}
