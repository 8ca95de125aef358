package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries the request context and, inside a storage transaction, the
// transaction handle that repo calls must share.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Conn returns the transaction when set, otherwise base. Both are bound to Ctx.
func (c Context) Conn(base *gorm.DB) *gorm.DB {
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Tx != nil {
		return c.Tx.WithContext(ctx)
	}
	if base == nil {
		return nil
	}
	return base.WithContext(ctx)
}
