package services

import (
	"context"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/ports"
)

// publish sends event on p if one is configured. Delivery failures are logged, not returned.
func publish(ctx context.Context, p ports.EventPublisher, event domain.Event) {
	if p == nil {
		return
	}
	if err := p.PublishEvent(ctx, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "type", event.Type, "error", err)
	}
}
