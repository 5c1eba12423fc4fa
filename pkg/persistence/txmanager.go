package persistence

import "context"

// TxManager runs fn inside a transaction. Store operations that receive txCtx
// take part in it; an error from fn rolls everything back.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error)
}
