package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubChannel struct {
	err  error
	sent []string
}

func (s *stubChannel) Send(_ context.Context, _ Recipient, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func TestRouterFirstSuccessWins(t *testing.T) {
	first := &stubChannel{}
	second := &stubChannel{}
	r := NewRouter(first, second)

	assert.NoError(t, r.Send(context.Background(), Recipient{UserID: 1}, "привет"))
	assert.Equal(t, []string{"привет"}, first.sent)
	assert.Empty(t, second.sent)
}

func TestRouterSkipsUnaddressable(t *testing.T) {
	telegram := &stubChannel{err: ErrNoRecipient}
	email := &stubChannel{}
	r := NewRouter(telegram, nil, email)

	assert.NoError(t, r.Send(context.Background(), Recipient{UserID: 1, Email: "a@b.c"}, "привет"))
	assert.Len(t, email.sent, 1)
}

func TestRouterFallsThroughFailures(t *testing.T) {
	broken := &stubChannel{err: errors.New("timeout")}
	email := &stubChannel{}
	assert.NoError(t, NewRouter(broken, email).Send(context.Background(), Recipient{}, "x"))

	err := NewRouter(broken).Send(context.Background(), Recipient{}, "x")
	assert.ErrorContains(t, err, "timeout")

	err = NewRouter(&stubChannel{err: ErrNoRecipient}).Send(context.Background(), Recipient{UserID: 5}, "x")
	assert.ErrorIs(t, err, ErrNoRecipient)
}
