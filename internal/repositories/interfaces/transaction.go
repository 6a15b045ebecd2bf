package interfaces

import "context"

// TransactionRunner runs fn in a single transaction. Repository calls made
// with the context passed to fn take part in that transaction.
type TransactionRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
