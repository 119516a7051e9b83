package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/OutlineBot/internal/metrics"
	"github.com/BTreeMap/OutlineBot/internal/models"
	"github.com/BTreeMap/OutlineBot/internal/util"
	"github.com/BTreeMap/OutlineBot/internal/whatsapp"
)

// Broadcast defaults.
const (
	DefaultBroadcastJID  = "120363347522191441@g.us"
	DefaultBroadcastCron = "40 7 * * *"
	DefaultMaxAttempts   = 3
	DefaultRetryDelay    = time.Minute
	broadcastDateLayout  = "2006-01-02"
)

// DefaultBroadcastText is the daily promotional message.
const DefaultBroadcastText = "📌 Te invitamos a unirte al canal de WhatsApp donde subimos vacantes o empleos 📌\n\n" +
	"https://whatsapp.com/channel/0029Vb6CrqvK0IBpRURgAl1R\n\n" +
	"👉 Si eres una empresa que solicita o simplemente te gustaría apoyar a subir vacantes que nos mantengan al día a todos , " +
	"simplemente manda msj a los administradores para que se te asigne admin en el canal y puedas publicarte tambien en el 👈\n\n" +
	"‼️ CONOCE TAMBIÉN NUESTROS DEMAS GRUPOS AQUÍ EN WHATSAPP, UNIÉNDOTE A ESTE OTRO CANAL ‼️\n\n" +
	"https://whatsapp.com/channel/0029Vb6Ml1x0gcfBHsUjPs06"

// ErrAlreadySent is returned by Fire when today's broadcast already went out.
var ErrAlreadySent = errors.New("broadcast already sent today")

// JobScheduler registers recurring jobs. *scheduler.Scheduler implements it.
type JobScheduler interface {
	AddJob(expr string, task func()) error
	Next(expr string, from time.Time) (time.Time, error)
}

// BroadcasterOpts configures a Broadcaster.
type BroadcasterOpts struct {
	To          string
	Text        string
	Cron        string
	MaxAttempts int
	RetryDelay  time.Duration
	Clock       func() time.Time
	// Location decides which calendar date a send counts for.
	Location *time.Location
}

// BroadcasterOption modifies BroadcasterOpts.
type BroadcasterOption func(*BroadcasterOpts)

// WithBroadcastTarget sets the destination chat.
func WithBroadcastTarget(jid string) BroadcasterOption {
	return func(o *BroadcasterOpts) {
		o.To = jid
	}
}

// WithBroadcastText replaces the broadcast body.
func WithBroadcastText(text string) BroadcasterOption {
	return func(o *BroadcasterOpts) {
		o.Text = text
	}
}

// WithBroadcastCron sets when the broadcast fires.
func WithBroadcastCron(expr string) BroadcasterOption {
	return func(o *BroadcasterOpts) {
		o.Cron = expr
	}
}

// WithRetry bounds same-day retries after a failed send.
func WithRetry(maxAttempts int, delay time.Duration) BroadcasterOption {
	return func(o *BroadcasterOpts) {
		o.MaxAttempts = maxAttempts
		o.RetryDelay = delay
	}
}

// WithBroadcastClock injects the time source.
func WithBroadcastClock(clock func() time.Time) BroadcasterOption {
	return func(o *BroadcasterOpts) {
		o.Clock = clock
	}
}

// WithBroadcastLocation sets the zone of the once-per-day guard. It should match
// the scheduler's zone.
func WithBroadcastLocation(loc *time.Location) BroadcasterOption {
	return func(o *BroadcasterOpts) {
		if loc != nil {
			o.Location = loc
		}
	}
}

// Broadcaster sends the promotional message to the group once per calendar day.
type Broadcaster struct {
	sender whatsapp.Sender
	sched  JobScheduler
	opts   BroadcasterOpts

	// sleep waits between retries; it returns false when ctx ends first.
	sleep func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	lastDate string
	started  bool
}

// NewBroadcaster creates a Broadcaster. Nothing is scheduled until Start.
func NewBroadcaster(sender whatsapp.Sender, sched JobScheduler, opts ...BroadcasterOption) *Broadcaster {
	cfg := BroadcasterOpts{
		To:          DefaultBroadcastJID,
		Text:        DefaultBroadcastText,
		Cron:        DefaultBroadcastCron,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		Clock:       time.Now,
		Location:    time.Local,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Broadcaster{sender: sender, sched: sched, opts: cfg, sleep: sleepCtx}
}

// Start schedules the daily job. Only the first call has an effect, so repeated
// connection opens never stack jobs.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		slog.Debug("Broadcaster.Start: already scheduled")
		return nil
	}
	b.started = true
	b.mu.Unlock()

	if err := b.sched.AddJob(b.opts.Cron, func() { b.Run(ctx) }); err != nil {
		b.mu.Lock()
		b.started = false
		b.mu.Unlock()
		return fmt.Errorf("schedule broadcast: %w", err)
	}
	next, err := b.sched.Next(b.opts.Cron, b.opts.Clock())
	if err != nil {
		slog.Warn("Broadcaster.Start: next run unknown", "error", err)
	}
	slog.Info("Broadcaster.Start: daily broadcast scheduled", "cron", b.opts.Cron, "to", b.opts.To, "next_run", next)
	return nil
}

// Run fires the broadcast, retrying failed sends up to MaxAttempts times while the
// calendar date stays the same.
func (b *Broadcaster) Run(ctx context.Context) {
	log := slog.With("trace", util.NewTraceID("b_"), "to", b.opts.To)
	day := b.dateOf(b.opts.Clock())

	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		now := b.opts.Clock()
		if b.dateOf(now) != day {
			log.Warn("Broadcaster.Run: date changed, giving up retries", "attempt", attempt)
			return
		}
		err := b.Fire(ctx, now)
		switch {
		case err == nil:
			return
		case errors.Is(err, ErrAlreadySent):
			log.Debug("Broadcaster.Run: already sent today", "date", day)
			return
		}
		log.Error("Broadcaster.Run: broadcast failed", "attempt", attempt, "max_attempts", b.opts.MaxAttempts, "error", err)
		if attempt == b.opts.MaxAttempts {
			return
		}
		if !b.sleep(ctx, b.opts.RetryDelay) {
			log.Info("Broadcaster.Run: stopped before retry")
			return
		}
	}
}

// Fire sends the broadcast once, unless it already went out on now's date.
func (b *Broadcaster) Fire(ctx context.Context, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	today := b.dateOf(now)
	if b.lastDate == today {
		metrics.RecordBroadcast(metrics.StatusSkipped)
		return ErrAlreadySent
	}

	if err := b.sender.SendPresence(ctx, b.opts.To, models.PresenceComposing); err != nil {
		slog.Debug("Broadcaster.Fire: presence update failed", "error", err)
	}
	if err := b.sender.SendMessage(ctx, b.opts.To, b.opts.Text); err != nil {
		metrics.RecordBroadcast(metrics.StatusError)
		return fmt.Errorf("send broadcast to %s: %w", b.opts.To, err)
	}
	if err := b.sender.SendPresence(ctx, b.opts.To, models.PresencePaused); err != nil {
		slog.Debug("Broadcaster.Fire: presence update failed", "error", err)
	}

	b.lastDate = today
	metrics.RecordBroadcast(metrics.StatusSuccess)
	slog.Info("Broadcaster.Fire: broadcast sent", "to", b.opts.To, "date", today)
	return nil
}

// LastDate returns the date of the last successful broadcast, or "".
func (b *Broadcaster) LastDate() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDate
}

func (b *Broadcaster) dateOf(t time.Time) string {
	return t.In(b.opts.Location).Format(broadcastDateLayout)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
