package watchers

import (
	"context"
	"errors"

	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/models"
)

// ScoutNotifier receives high-overlap article matches as they are found.
type ScoutNotifier interface {
	Notify(ctx context.Context, alert models.ScoutAlert) error
}

// LogNotifier writes scout alerts to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, a models.ScoutAlert) error {
	logging.With("scout").WithFields(map[string]interface{}{
		"market_id": a.MarketID,
		"overlap":   a.Overlap,
		"source":    a.Source,
		"url":       a.URL,
	}).Infof("scout: %q matches %q", a.Title, a.Question)
	return nil
}

// Notifiers fans an alert out to every notifier and joins their errors.
type Notifiers []ScoutNotifier

func (ns Notifiers) Notify(ctx context.Context, a models.ScoutAlert) error {
	var errs []error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
