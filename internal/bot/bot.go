package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/OutlineBot/internal/messaging"
)

// ErrLoggedOut is returned by Run when the linked device was removed.
var ErrLoggedOut = errors.New("whatsapp session logged out")

// Bot connects the transport to the dispatcher and the lifecycle.
type Bot struct {
	svc        messaging.Service
	dispatcher *Dispatcher
	lifecycle  *Lifecycle
	wg         sync.WaitGroup
}

// New creates a Bot.
func New(svc messaging.Service, dispatcher *Dispatcher, lifecycle *Lifecycle) *Bot {
	return &Bot{svc: svc, dispatcher: dispatcher, lifecycle: lifecycle}
}

// Run starts the transport and processes events until ctx ends or the session is
// logged out. Messages are handled concurrently but in arrival order per chat; Run
// waits for in-flight handlers before returning.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.svc.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer b.wg.Wait()

	slog.Info("Bot.Run: processing events")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Bot.Run: context done, stopping")
			return nil
		case <-b.lifecycle.Terminal():
			return ErrLoggedOut
		case msg := <-b.svc.Messages():
			handle := b.dispatcher.Reserve(msg)
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				handle(ctx)
			}()
		case update := <-b.svc.Updates():
			b.lifecycle.HandleUpdate(ctx, update)
		}
	}
}
