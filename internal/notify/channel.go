package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoRecipient - канал не умеет адресовать этого получателя (нет chat_id, email и т.п.)
var ErrNoRecipient = errors.New("получатель недоступен для канала")

type Recipient struct {
	UserID int64
	ChatID int64
	Email  string
	Name   string
}

// Channel - канал доставки текста человеку. Повторы отправки - забота канала.
type Channel interface {
	Send(ctx context.Context, to Recipient, text string) error
}

// Router пробует каналы по порядку и останавливается на первом успешном.
// Каналы, вернувшие ErrNoRecipient, пропускаются без ошибки.
type Router struct {
	channels []Channel
}

func NewRouter(channels ...Channel) *Router {
	var active []Channel
	for _, ch := range channels {
		if ch != nil {
			active = append(active, ch)
		}
	}
	return &Router{channels: active}
}

func (r *Router) Send(ctx context.Context, to Recipient, text string) error {
	var failures []string
	for _, ch := range r.channels {
		err := ch.Send(ctx, to, text)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNoRecipient) {
			continue
		}
		failures = append(failures, err.Error())
	}
	if len(failures) == 0 {
		return fmt.Errorf("%w: user_id=%d", ErrNoRecipient, to.UserID)
	}
	return fmt.Errorf("доставка не удалась: %s", strings.Join(failures, "; "))
}
