package grpcserver

import (
	"context"

	"github.com/and161185/sharegate/internal/model"
)

type ctxKey string

const callerKey ctxKey = "sg.caller"

// WithCaller stores the authenticated caller in context.
func WithCaller(ctx context.Context, c model.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromCtx fetches the caller stored by AuthUnary.
func CallerFromCtx(ctx context.Context) (model.Caller, bool) {
	c, ok := ctx.Value(callerKey).(model.Caller)
	return c, ok
}
