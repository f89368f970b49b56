package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pillars-watch/internal/database"
	"pillars-watch/internal/intervention"
	"pillars-watch/internal/logger"
	"pillars-watch/internal/notify"
)

// recordingChannel запоминает отправленное и может отказать конкретному получателю
type recordingChannel struct {
	mu     sync.Mutex
	sent   map[int64][]string
	failOn map[int64]error
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{sent: map[int64][]string{}, failOn: map[int64]error{}}
}

func (c *recordingChannel) Send(_ context.Context, to notify.Recipient, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failOn[to.UserID]; err != nil {
		return err
	}
	c.sent[to.UserID] = append(c.sent[to.UserID], text)
	return nil
}

func (c *recordingChannel) count(userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent[userID])
}

func (c *recordingChannel) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, msgs := range c.sent {
		n += len(msgs)
	}
	return n
}

func absenceDraft(sev database.Severity, withPeer bool) intervention.Draft {
	meta := database.UserMeta{UserID: 1, Name: "Sam", ChatID: 100, StreakDays: 12}
	if withPeer {
		meta.Peer = &database.Peer{ID: 2, Name: "Alex", ChatID: 200}
	}
	p := database.Pattern{
		UserID:   1,
		Type:     database.PatternAbsence,
		Severity: sev,
		Evidence: database.Evidence{Summary: "нет отметок", Values: map[string]float64{"days_since": 5}},
	}
	return intervention.Draft{Pattern: p, Meta: meta, Text: "текст", Method: database.MethodTemplate}
}

func TestDispatchUserOnly(t *testing.T) {
	ch := newRecordingChannel()
	d := NewDispatcher(ch, logger.Nop())

	res := d.Dispatch(context.Background(), absenceDraft(database.SeverityCritical, true))

	assert.Equal(t, database.TargetUser, res.Target)
	assert.Equal(t, database.DeliveryDelivered, res.UserStatus)
	assert.Equal(t, 1, ch.count(1))
	assert.Zero(t, ch.count(2))
	assert.Empty(t, res.PeerText)
}

func TestDispatchEmergencyNotifiesPeer(t *testing.T) {
	ch := newRecordingChannel()
	d := NewDispatcher(ch, logger.Nop())

	res := d.Dispatch(context.Background(), absenceDraft(database.SeverityEmergency, true))

	assert.Equal(t, database.TargetUserAndPeer, res.Target)
	assert.Equal(t, database.DeliveryDelivered, res.UserStatus)
	assert.Equal(t, database.DeliveryDelivered, res.PeerStatus)
	require.Equal(t, 1, ch.count(2))
	assert.NotEqual(t, ch.sent[1][0], ch.sent[2][0])
	assert.Equal(t, res.PeerText, ch.sent[2][0])
}

func TestDispatchEmergencyWithoutPeer(t *testing.T) {
	ch := newRecordingChannel()
	res := NewDispatcher(ch, logger.Nop()).Dispatch(context.Background(), absenceDraft(database.SeverityEmergency, false))

	assert.Equal(t, database.TargetUser, res.Target)
	assert.Equal(t, 1, ch.total())
}

func TestDispatchContentPatternNeverReachesPeer(t *testing.T) {
	ch := newRecordingChannel()
	draft := absenceDraft(database.SeverityEmergency, true)
	draft.Pattern.Type = database.PatternIncidentRelapse
	draft.Pattern.Severity = database.SeverityCritical

	res := NewDispatcher(ch, logger.Nop()).Dispatch(context.Background(), draft)
	assert.Equal(t, database.TargetUser, res.Target)
	assert.Zero(t, ch.count(2))
}

func TestDispatchFailuresAreIndependent(t *testing.T) {
	ch := newRecordingChannel()
	ch.failOn[1] = errors.New("chat not found")
	d := NewDispatcher(ch, logger.Nop())

	res := d.Dispatch(context.Background(), absenceDraft(database.SeverityEmergency, true))
	assert.Equal(t, database.DeliveryFailed, res.UserStatus)
	assert.Contains(t, res.UserError, "chat not found")
	assert.Equal(t, database.DeliveryDelivered, res.PeerStatus)
	assert.Equal(t, 1, ch.count(2))

	ch = newRecordingChannel()
	ch.failOn[2] = errors.New("blocked")
	res = NewDispatcher(ch, logger.Nop()).Dispatch(context.Background(), absenceDraft(database.SeverityEmergency, true))
	assert.Equal(t, database.DeliveryDelivered, res.UserStatus)
	assert.Equal(t, database.DeliveryFailed, res.PeerStatus)
	assert.Contains(t, res.PeerError, "blocked")
}
