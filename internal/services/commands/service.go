// Package commands handles the bot's chat commands: subscribing chats to
// accounts, listing and exporting subscriptions. It is the only writer of
// new subscriptions; the poller picks them up on its next run.
package commands

import (
	"context"
	"regexp"
	"strings"
	"time"

	"tweetfwd/internal/storage"
	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
)

// Store is the slice of the persistence layer the command handlers use.
type Store interface {
	UpsertChat(ctx context.Context, telegramID int64) (storage.Chat, error)
	GetOrCreateAccount(ctx context.Context, screenName string) (storage.Account, error)
	AccountByScreenName(ctx context.Context, screenName string) (*storage.Account, error)
	AccountSubscriptionCount(ctx context.Context, accountID int64) (int, error)
	DeleteAccount(ctx context.Context, id int64) error
	CreateSubscription(ctx context.Context, chatID, accountID int64) (bool, error)
	RemoveSubscription(ctx context.Context, chatID, accountID int64) (bool, error)
	SubscriptionsForChat(ctx context.Context, chatID int64) ([]storage.SubscriptionView, error)
}

type Service struct {
	st     Store
	sender kit.Sender
	log    logx.Logger
}

func New(st Store, sender kit.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{st: st, sender: sender, log: log}
}

// Run consumes updates until ctx is done.
func (s *Service) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-updates:
			if up.Message == nil {
				continue
			}
			s.handle(ctx, up.Message)
		}
	}
}

func (s *Service) handle(ctx context.Context, m *kit.Message) {
	cmd, args := parseCommand(m.Text)
	if cmd == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	log := s.log.With(logx.Int64("chat_id", m.ChatID), logx.String("cmd", cmd))
	switch cmd {
	case "start":
		s.reply(ctx, m, "Hello! Use /sub <username> to forward that account's tweets here. /help for more.")
	case "help":
		s.reply(ctx, m, helpText)
	case "ping":
		s.reply(ctx, m, "pong!")
	case "sub":
		s.cmdSub(ctx, log, m, args)
	case "unsub":
		s.cmdUnsub(ctx, log, m, args)
	case "list":
		s.cmdList(ctx, log, m)
	case "export":
		s.cmdExport(ctx, log, m)
	default:
		// Unknown commands and plain chatter are ignored.
	}
}

const helpText = `Commands:
/sub <username> [..] - subscribe this chat to one or more accounts
/unsub <username> [..] - remove subscriptions
/list - show this chat's subscriptions
/export - list subscriptions as a /sub command
/ping - check that the bot is alive`

// parseCommand splits "/cmd@botname arg arg" into the bare command and its
// arguments. Non-command text yields "".
func parseCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), fields[1:]
}

var screenNameRe = regexp.MustCompile(`^@?\w{1,15}$`)

func normalizeScreenName(raw string) (string, bool) {
	if !screenNameRe.MatchString(raw) {
		return "", false
	}
	return strings.TrimPrefix(raw, "@"), true
}

func (s *Service) reply(ctx context.Context, m *kit.Message, text string) {
	err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, &kit.SendOptions{DisablePreview: true})
	if err != nil {
		s.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}
