package store

import "context"

// ReconcileTx is the mutation surface available inside one reconciliation
// transaction. Every method sees the same snapshot; an error returned from the
// enclosing function rolls all of it back.
//
// Suppress and TenantsForEmail must isolate their own failures: the caller
// logs their errors and carries on, so an implementation error must leave the
// enclosing transaction usable. The Postgres implementation runs them inside
// savepoints.
type ReconcileTx interface {
	FindEventByDedupKey(ctx context.Context, snsMessageID, topicARN string) (EmailEvent, bool, error)
	FindLogsByMessageID(ctx context.Context, messageID string) ([]EmailLog, error)
	ApplyDeliveryUpdate(ctx context.Context, in DeliveryUpdate) error
	Suppress(ctx context.Context, in SuppressionInsert) (bool, error)
	TenantsForEmail(ctx context.Context, email string) ([]string, error)
	InsertEvent(ctx context.Context, in EventInsert) (bool, error)
}

type TxRunner interface {
	InTx(ctx context.Context, fn func(ReconcileTx) error) error
}
