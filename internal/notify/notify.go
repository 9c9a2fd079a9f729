// Package notify fans out the changes and reminder candidates produced by the
// application services. The services never call a publisher themselves.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/application"
)

// Publisher delivers change events and reminders to interested parties.
type Publisher interface {
	PublishChanges(ctx context.Context, changes []application.Change) error
	// PublishReminders returns how many reminders were handed over. A
	// publisher may drop reservations it already reminded about.
	PublishReminders(ctx context.Context, reservations []application.Reservation) (int, error)
}

// LogPublisher writes every event to a zap logger.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a publisher that only logs.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.L()
	}
	return &LogPublisher{logger: logger.With(zap.String("component", "notify"))}
}

// PublishChanges logs each change.
func (p *LogPublisher) PublishChanges(_ context.Context, changes []application.Change) error {
	for _, c := range changes {
		p.logger.Info("change",
			zap.String("kind", string(c.Kind)),
			zap.String("reservation_id", c.ReservationID),
			zap.String("desk_id", c.DeskID),
			zap.String("status", c.Status),
			zap.Time("at", c.At),
		)
	}
	return nil
}

// PublishReminders logs each reminder.
func (p *LogPublisher) PublishReminders(_ context.Context, reservations []application.Reservation) (int, error) {
	for _, r := range reservations {
		p.logger.Info("reminder",
			zap.String("reservation_id", r.ID),
			zap.String("user_id", r.UserID),
			zap.String("desk_id", r.DeskID),
			zap.Time("start", r.Start),
		)
	}
	return len(reservations), nil
}
