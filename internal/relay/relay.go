// Package relay is the store-and-forward engine: it accepts opaque
// encrypted payloads, commits them durably, and pushes to the recipient's
// live channel when one is bound. Persistence defines acceptance; live
// delivery is a best-effort side effect on top of it.
package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/3O98/pgp-based-communication-app/internal/apperr"
	"github.com/3O98/pgp-based-communication-app/internal/models"
	"github.com/3O98/pgp-based-communication-app/internal/presence"
	"github.com/3O98/pgp-based-communication-app/internal/store"
)

// DeliveredEvent is the push frame sent over a bound live channel when a
// message for its identity is accepted.
type DeliveredEvent struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

const EventMessageDelivered = "message_delivered"

type SubmitRequest struct {
	Sender         string
	Recipient      string
	Ciphertext     models.Base64Bytes
	Kind           string
	AttachmentName string
}

type Engine struct {
	store    *store.Store
	presence *presence.Registry
}

func NewEngine(st *store.Store, reg *presence.Registry) *Engine {
	return &Engine{store: st, presence: reg}
}

// Submit validates, persists, and then attempts live delivery. The message
// is committed before the presence lookup, so a live push can never succeed
// for a message that history replay would later miss. The committed record
// is returned regardless of delivery outcome; recipients need not be
// registered or reachable.
func (e *Engine) Submit(req SubmitRequest) (models.Message, error) {
	if req.Sender == "" {
		return models.Message{}, apperr.InvalidArg("sender is required")
	}
	if req.Recipient == "" {
		return models.Message{}, apperr.InvalidArg("recipient is required")
	}
	if len(req.Ciphertext) == 0 {
		return models.Message{}, apperr.InvalidArg("ciphertext is required")
	}

	msg := e.store.AppendMessage(models.Message{
		Sender:         req.Sender,
		Recipient:      req.Recipient,
		Ciphertext:     req.Ciphertext,
		Kind:           req.Kind,
		AttachmentName: req.AttachmentName,
	})

	e.deliverLive(msg)
	return msg, nil
}

// deliverLive pushes msg to the recipient's bound channel, exactly once,
// fire-and-forget. A push failure is logged and swallowed: the message is
// already durable and retrievable via history.
func (e *Engine) deliverLive(msg models.Message) {
	ch, ok := e.presence.Lookup(msg.Recipient)
	if !ok {
		return
	}

	payload, err := json.Marshal(DeliveredEvent{Type: EventMessageDelivered, Message: msg})
	if err != nil {
		slog.Warn("Failed to marshal delivery event", "message_id", msg.ID, "error", err)
		return
	}

	if err := ch.Deliver(payload); err != nil {
		slog.Warn("Live delivery failed, message remains retrievable via history",
			"message_id", msg.ID, "recipient", msg.Recipient, "error", err)
	}
}

// Bind registers ch as the delivery target for identity. Invoked by the
// transport layer on a bind event; the engine itself is transport-agnostic.
func (e *Engine) Bind(identity string, ch presence.Channel) error {
	if identity == "" {
		return apperr.InvalidArg("identity is required")
	}
	e.presence.Bind(identity, ch)
	return nil
}

// Unbind releases whatever identity is bound to ch. Invoked by the
// transport layer on disconnect; never rolls back persisted messages.
func (e *Engine) Unbind(ch presence.Channel) {
	e.presence.Unbind(ch)
}

// History returns the full ordered conversation between a and b.
func (e *Engine) History(a, b string) ([]models.Message, error) {
	if a == "" || b == "" {
		return nil, apperr.InvalidArg("both identities are required")
	}
	return e.store.RangeMessages(a, b), nil
}
