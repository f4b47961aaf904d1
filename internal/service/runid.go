package service

import (
	"context"
	"time"
)

type runIDKey struct{}

// WithRunID 把运行 ID 放入上下文，审计记录据此归档
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// NewRunID 以开始时间生成运行 ID
func NewRunID(t time.Time) string {
	return t.Format("20060102_150405.000")
}
