package telemetry

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import "context"

type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID string, payload any) error
}
