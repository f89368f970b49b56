package services

import (
	"context"

	"pillars-watch/internal/database"
	"pillars-watch/internal/intervention"
	"pillars-watch/internal/logger"
	"pillars-watch/internal/notify"
)

// DeliveryResult - итог доставки по каждому адресату отдельно
type DeliveryResult struct {
	Target     database.DeliveryTarget
	UserStatus database.DeliveryStatus
	UserError  string
	PeerText   string
	PeerStatus database.DeliveryStatus
	PeerError  string
}

// Dispatcher доставляет текст пользователю и, на верхней ступени пропусков, напарнику
type Dispatcher struct {
	channel notify.Channel
	log     *logger.Logger
}

func NewDispatcher(channel notify.Channel, log *logger.Logger) *Dispatcher {
	return &Dispatcher{channel: channel, log: log}
}

// Dispatch отправляет каждому адресату независимо: ошибка одного не отменяет другого и не повторяется
func (d *Dispatcher) Dispatch(ctx context.Context, draft intervention.Draft) DeliveryResult {
	meta := draft.Meta
	result := DeliveryResult{Target: database.TargetUser}

	user := notify.Recipient{UserID: meta.UserID, ChatID: meta.ChatID, Email: meta.Email, Name: meta.Name}
	if err := d.channel.Send(ctx, user, draft.Text); err != nil {
		result.UserStatus = database.DeliveryFailed
		result.UserError = err.Error()
		d.log.Error("❌ Ошибка отправки пользователю",
			"user_id", meta.UserID, "pattern", draft.Pattern.Type, "severity", draft.Pattern.Severity, "err", err)
	} else {
		result.UserStatus = database.DeliveryDelivered
	}

	if !intervention.NotifiesPeer(draft.Pattern, meta) {
		return result
	}

	result.Target = database.TargetUserAndPeer
	result.PeerText = intervention.PeerMessage(draft.Pattern, meta)
	peer := notify.Recipient{UserID: meta.Peer.ID, ChatID: meta.Peer.ChatID, Email: meta.Peer.Email, Name: meta.Peer.Name}
	if err := d.channel.Send(ctx, peer, result.PeerText); err != nil {
		result.PeerStatus = database.DeliveryFailed
		result.PeerError = err.Error()
		d.log.Error("❌ Ошибка отправки напарнику",
			"user_id", meta.UserID, "peer_id", meta.Peer.ID, "err", err)
	} else {
		result.PeerStatus = database.DeliveryDelivered
		d.log.Info("👥 Напарник уведомлён", "user_id", meta.UserID, "peer_id", meta.Peer.ID)
	}

	return result
}
