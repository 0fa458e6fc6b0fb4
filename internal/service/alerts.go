package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	alertTimeout   = 10 * time.Second
	inflightAlerts = 8
)

// alertSender delivers operator alerts off the caller's goroutine. When too many are
// in flight new ones are dropped with a warning.
type alertSender struct {
	alerts Alerter
	log    *slog.Logger
	slots  chan struct{}
	wg     sync.WaitGroup
}

func newAlertSender(alerts Alerter, log *slog.Logger) *alertSender {
	return &alertSender{alerts: alerts, log: log, slots: make(chan struct{}, inflightAlerts)}
}

func (a *alertSender) send(text string) {
	if a.alerts == nil {
		return
	}
	select {
	case a.slots <- struct{}{}:
	default:
		a.log.Warn("operator alert dropped", "text", text)
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.slots }()
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := a.alerts.Alert(ctx, text); err != nil {
			a.log.Warn("operator alert failed", "err", err)
		}
	}()
}

// wait blocks until every queued alert has been sent or has timed out.
func (a *alertSender) wait() {
	a.wg.Wait()
}
