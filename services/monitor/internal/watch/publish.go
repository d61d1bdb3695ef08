package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"slotwatch/services/timeslots"
)

const publishTimeout = 5 * time.Second

// Publisher publishes a JSON encoded message. *bus.Bus implements it.
type Publisher interface {
	PublishMsg(ctx context.Context, subj, msgID string, v any) error
}

// PublishChanges returns an engine handler that forwards every change to
// subject. Failures are logged; the diff that produced the change is not
// affected.
func PublishChanges(pub Publisher, subject string, logger zerolog.Logger) timeslots.Handler {
	return func(e timeslots.DiffEntry) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := pub.PublishMsg(ctx, subject, MessageID(e), e); err != nil {
			logger.Error().Err(err).Str("key", e.Key).Str("correlation_id", e.ID).Msg("publish change")
		}
	}
}

// MessageID identifies an entry for duplicate suppression on the bus.
func MessageID(e timeslots.DiffEntry) string {
	return fmt.Sprintf("%s/%s/%d", e.Key, e.ID, e.Timestamp.UnixNano())
}
