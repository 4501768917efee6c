package transport

import (
	"context"
	"errors"
	"fmt"
)

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the minimal outbound capability used by services.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	SendPhoto(ctx context.Context, to ChatTarget, photoURL, caption string, opt *SendOptions) error
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// DeliveryErrKind classifies a failed send by what it says about the
// destination chat, not by the transport's own error taxonomy.
type DeliveryErrKind int

const (
	// DeliveryOther covers transient or unclassified send failures.
	DeliveryOther DeliveryErrKind = iota
	// DeliveryChatGone means the chat no longer exists in a reachable form
	// (migrated to a supergroup, deleted, bot kicked).
	DeliveryChatGone
	// DeliveryUnauthorized means the bot is not allowed to post there anymore.
	DeliveryUnauthorized
)

// DeliveryError wraps a send failure with its destination classification.
// Adapters return it from SendText/SendPhoto; services inspect it with
// errors.As to decide whether the chat should be dropped.
type DeliveryError struct {
	Kind DeliveryErrKind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s): %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (k DeliveryErrKind) String() string {
	switch k {
	case DeliveryChatGone:
		return "chat gone"
	case DeliveryUnauthorized:
		return "unauthorized"
	default:
		return "other"
	}
}

// ClassifyDelivery extracts the delivery classification from err.
// Plain errors classify as DeliveryOther.
func ClassifyDelivery(err error) DeliveryErrKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return DeliveryOther
}
