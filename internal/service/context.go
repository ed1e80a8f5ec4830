package service

import (
	"context"

	"github.com/Sentinel-Gate/infragate/internal/ctxkey"
)

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.RequestIDKey{}).(string)
	return id
}
