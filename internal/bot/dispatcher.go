// Package bot implements OutlineBot's behavior: inbound message dispatch, the
// connection lifecycle, the daily broadcast and the keep-alive self-ping.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/OutlineBot/internal/metrics"
	"github.com/BTreeMap/OutlineBot/internal/models"
	"github.com/BTreeMap/OutlineBot/internal/store"
	"github.com/BTreeMap/OutlineBot/internal/util"
	"github.com/BTreeMap/OutlineBot/internal/whatsapp"
)

// Fixed conversation texts.
const (
	EndKeyword      = "outline"
	FarewellText    = "Conversación finalizada. 👋"
	ShortReplyText  = "Entendido."
	ClosingHint     = "\n\n_Escribe \"Outline\" para finalizar._"
	ShortReplyRunes = 3

	DefaultPreamble = "Eres un asistente conversacional profesional pero cercano. Responde en español de forma natural y directa.\n" +
		"REGLAS: Máximo 2-3 oraciones, NO digas que eres IA, NO uses emojis en exceso."
)

// shortReplies are acknowledgements answered without calling the model.
var shortReplies = map[string]struct{}{
	"ok": {}, "ya": {}, "gracias": {}, "vale": {}, "si": {}, "no": {}, "listo": {}, "bien": {},
}

// Outcome is the result of handling one inbound message.
type Outcome string

const (
	OutcomeIgnoredEmpty  Outcome = "ignored_empty"
	OutcomeIgnoredFromMe Outcome = "ignored_from_me"
	OutcomeIgnoredChat   Outcome = "ignored_chat"
	OutcomeIgnoredNoText Outcome = "ignored_no_text"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeFarewell      Outcome = "farewell"
	OutcomeThrottled     Outcome = "throttled"
	OutcomeShortReply    Outcome = "short_reply"
	OutcomeReplied       Outcome = "replied"
	OutcomeFailed        Outcome = "failed"
)

// Completer produces the assistant's reply for a conversation.
type Completer interface {
	Generate(ctx context.Context, preamble string, history []models.Turn, userText string) (string, error)
}

// DispatcherOpts configures a Dispatcher.
type DispatcherOpts struct {
	Cooldown     time.Duration
	Preamble     string
	BroadcastJID string
}

// DispatcherOption modifies DispatcherOpts.
type DispatcherOption func(*DispatcherOpts)

// WithCooldown sets the minimum spacing between automated replies to one chat.
func WithCooldown(d time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) {
		o.Cooldown = d
	}
}

// WithPreamble replaces the system instruction sent with every completion.
func WithPreamble(p string) DispatcherOption {
	return func(o *DispatcherOpts) {
		o.Preamble = p
	}
}

// WithIgnoredJID makes the dispatcher ignore messages from the broadcast destination.
func WithIgnoredJID(jid string) DispatcherOption {
	return func(o *DispatcherOpts) {
		o.BroadcastJID = jid
	}
}

// Dispatcher turns inbound messages into replies.
type Dispatcher struct {
	sender    whatsapp.Sender
	completer Completer
	history   *store.HistoryStore
	cooldowns *store.CooldownStore
	dedup     *store.DedupFilter
	queue     *chatQueue
	opts      DispatcherOpts
}

// NewDispatcher wires a Dispatcher to its stores, transport and completion service.
func NewDispatcher(sender whatsapp.Sender, completer Completer, history *store.HistoryStore,
	cooldowns *store.CooldownStore, dedup *store.DedupFilter, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{Cooldown: store.DefaultCooldown, Preamble: DefaultPreamble, BroadcastJID: DefaultBroadcastJID}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		sender:    sender,
		completer: completer,
		history:   history,
		cooldowns: cooldowns,
		dedup:     dedup,
		queue:     newChatQueue(),
		opts:      cfg,
	}
}

// HandleMessage processes one inbound message and reports what happened.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg models.InboundMessage) Outcome {
	return d.Reserve(msg)(ctx)
}

// Reserve queues msg behind earlier messages of its chat and returns the handler
// to run, typically on its own goroutine. Messages of one chat are handled in the
// order Reserve was called; different chats run in parallel.
func (d *Dispatcher) Reserve(msg models.InboundMessage) func(ctx context.Context) Outcome {
	t := d.queue.Reserve(msg.Chat)
	return func(ctx context.Context) Outcome {
		defer t.Release()
		log := slog.With("trace", util.NewTraceID("m_"), "chat", msg.Chat, "id", msg.ID)
		outcome := d.handle(ctx, msg, t, log)
		metrics.RecordMessage(string(outcome))
		log.Debug("Dispatcher.HandleMessage: done", "outcome", outcome)
		return outcome
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg models.InboundMessage, t *ticket, log *slog.Logger) Outcome {
	if !msg.HasContent {
		return OutcomeIgnoredEmpty
	}
	if msg.FromMe {
		return OutcomeIgnoredFromMe
	}
	if d.isIgnoredChat(msg.Chat) {
		return OutcomeIgnoredChat
	}
	if msg.ID != "" && !d.dedup.RecordIfNew(msg.ID) {
		log.Debug("Dispatcher.handle: duplicate delivery dropped")
		return OutcomeDuplicate
	}
	text := msg.Text
	if text == "" {
		return OutcomeIgnoredNoText
	}
	normalized := Normalize(text)

	t.Wait()

	if normalized == EndKeyword {
		d.history.Clear(msg.Chat)
		if err := d.sender.SendMessage(ctx, msg.Chat, FarewellText); err != nil {
			log.Error("Dispatcher.handle: failed to send farewell", "error", err)
			return OutcomeFailed
		}
		log.Info("Dispatcher.handle: conversation ended")
		return OutcomeFarewell
	}

	if d.cooldowns.IsSuppressed(msg.Chat) {
		log.Debug("Dispatcher.handle: cooldown active, message dropped")
		return OutcomeThrottled
	}

	if isShortReply(text, normalized) {
		if err := d.sender.SendMessage(ctx, msg.Chat, ShortReplyText); err != nil {
			log.Error("Dispatcher.handle: failed to send short reply", "error", err)
			return OutcomeFailed
		}
		d.cooldowns.Arm(msg.Chat, d.opts.Cooldown)
		return OutcomeShortReply
	}

	return d.reply(ctx, msg.Chat, text, log)
}

// reply runs a completion over the stored history and relays the answer.
func (d *Dispatcher) reply(ctx context.Context, chat, text string, log *slog.Logger) Outcome {
	if err := d.sender.SendPresence(ctx, chat, models.PresenceComposing); err != nil {
		log.Debug("Dispatcher.reply: presence update failed", "error", err)
	}

	start := time.Now()
	answer, err := d.completer.Generate(ctx, d.opts.Preamble, d.history.Get(chat), text)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordCompletion(metrics.StatusError, elapsed)
		log.Error("Dispatcher.reply: completion failed, message left unanswered", "error", err)
		return OutcomeFailed
	}
	metrics.RecordCompletion(metrics.StatusSuccess, elapsed)

	full := answer + ClosingHint
	d.history.Append(chat, text, full)
	if err := d.sender.SendMessage(ctx, chat, full); err != nil {
		log.Error("Dispatcher.reply: failed to send reply", "error", err)
		return OutcomeFailed
	}
	d.cooldowns.Arm(chat, d.opts.Cooldown)
	log.Info("Dispatcher.reply: reply sent", "reply_length", len(full))
	return OutcomeReplied
}

// isIgnoredChat filters groups, channels, status broadcasts and the broadcast target.
func (d *Dispatcher) isIgnoredChat(chat string) bool {
	switch {
	case chat == "":
		return true
	case strings.HasSuffix(chat, "@g.us"):
		return true
	case strings.Contains(chat, "@newsletter"):
		return true
	case strings.HasSuffix(chat, "@broadcast"):
		return true
	case d.opts.BroadcastJID != "" && chat == d.opts.BroadcastJID:
		return true
	}
	return false
}

func isShortReply(raw, normalized string) bool {
	if _, ok := shortReplies[normalized]; ok {
		return true
	}
	return utf8.RuneCountInString(raw) <= ShortReplyRunes
}
