package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/OutlineBot/internal/metrics"
	"github.com/go-resty/resty/v2"
)

// Self-ping defaults.
const (
	DefaultSelfPingInterval = "@every 10m"
	DefaultSelfPingTimeout  = 30 * time.Second
)

// SelfPinger requests the bot's own public /qr page so the hosting platform does
// not idle the instance.
type SelfPinger struct {
	client *resty.Client
	url    string
}

// NewSelfPinger targets http://<host>/qr.
func NewSelfPinger(host string) *SelfPinger {
	client := resty.New().
		SetTimeout(DefaultSelfPingTimeout).
		SetHeader("User-Agent", "OutlineBot-selfping")
	return &SelfPinger{client: client, url: fmt.Sprintf("http://%s/qr", host)}
}

// URL returns the pinged address.
func (p *SelfPinger) URL() string {
	return p.url
}

// Ping performs one request and returns the status code.
func (p *SelfPinger) Ping(ctx context.Context) (int, error) {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		metrics.RecordSelfPing(metrics.StatusError)
		slog.Error("SelfPinger.Ping: request failed", "url", p.url, "error", err)
		return 0, fmt.Errorf("self-ping %s: %w", p.url, err)
	}
	metrics.RecordSelfPing(metrics.StatusSuccess)
	slog.Info("SelfPinger.Ping: sent", "url", p.url, "status", resp.StatusCode())
	return resp.StatusCode(), nil
}

// Start schedules Ping on sched using expr.
func (p *SelfPinger) Start(ctx context.Context, sched JobScheduler, expr string) error {
	if err := sched.AddJob(expr, func() { p.Ping(ctx) }); err != nil {
		return fmt.Errorf("schedule self-ping: %w", err)
	}
	slog.Info("SelfPinger.Start: keep-alive scheduled", "url", p.url, "schedule", expr)
	return nil
}
