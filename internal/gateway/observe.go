package gateway

import (
	"context"
	"time"
)

// ObserveFunc receives the outcome of every gateway call.
type ObserveFunc func(op, table string, elapsed time.Duration, err error)

// Observe wraps g so that fn sees each call. Subscription callbacks are not
// observed.
func Observe(g Gateway, fn ObserveFunc) Gateway {
	if fn == nil {
		return g
	}
	return &observed{next: g, fn: fn}
}

type observed struct {
	next Gateway
	fn   ObserveFunc
}

func (o *observed) track(op, table string, start time.Time, err error) error {
	o.fn(op, table, time.Since(start), err)
	return err
}

func (o *observed) Insert(ctx context.Context, table string, record, out any) error {
	start := time.Now()
	return o.track("insert", table, start, o.next.Insert(ctx, table, record, out))
}

func (o *observed) Update(ctx context.Context, table, id string, patch, out any) error {
	start := time.Now()
	return o.track("update", table, start, o.next.Update(ctx, table, id, patch, out))
}

func (o *observed) UpdateWhere(ctx context.Context, table, id string, expect Query, patch, out any) error {
	start := time.Now()
	return o.track("update_where", table, start, o.next.UpdateWhere(ctx, table, id, expect, patch, out))
}

func (o *observed) Upsert(ctx context.Context, table string, record, out any) error {
	start := time.Now()
	return o.track("upsert", table, start, o.next.Upsert(ctx, table, record, out))
}

func (o *observed) Select(ctx context.Context, table string, q Query, out any) error {
	start := time.Now()
	return o.track("select", table, start, o.next.Select(ctx, table, q, out))
}

func (o *observed) Count(ctx context.Context, table string, q Query) (int, error) {
	start := time.Now()
	n, err := o.next.Count(ctx, table, q)
	return n, o.track("count", table, start, err)
}

func (o *observed) CallProcedure(ctx context.Context, name string, params map[string]any) error {
	start := time.Now()
	return o.track("rpc", name, start, o.next.CallProcedure(ctx, name, params))
}

func (o *observed) Subscribe(ctx context.Context, table string, filter EventFilter, h Handler) (Subscription, error) {
	start := time.Now()
	sub, err := o.next.Subscribe(ctx, table, filter, h)
	return sub, o.track("subscribe", table, start, err)
}
