// Package supabase implements gateway.Gateway on top of a Supabase project:
// PostgREST for tables, RPC for stored procedures and the realtime websocket
// for change subscriptions.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/supabase/client"
)

// Gateway is the Supabase-backed gateway.
type Gateway struct {
	client *client.Client

	rtMu     sync.Mutex
	realtime *client.RealtimeClient
}

var _ gateway.Gateway = (*Gateway)(nil)

// New wraps a REST client. rt may be nil, in which case Subscribe fails.
func New(c *client.Client, rt *client.RealtimeClient) *Gateway {
	return &Gateway{client: c, realtime: rt}
}

// Close disconnects the realtime websocket.
func (g *Gateway) Close() error {
	g.rtMu.Lock()
	defer g.rtMu.Unlock()
	if g.realtime == nil {
		return nil
	}
	return g.realtime.Disconnect()
}

// Insert implements gateway.Gateway.
func (g *Gateway) Insert(ctx context.Context, table string, record, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	resp, err := g.client.From(table).ExecuteInsert(ctx, record)
	if err := check(resp, err); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return gateway.DecodeFirst(resp.Body, out, fmt.Errorf("insert %s: empty representation", table))
}

// Update implements gateway.Gateway.
func (g *Gateway) Update(ctx context.Context, table, id string, patch, out any) error {
	return g.update(ctx, table, id, nil, patch, out, gateway.ErrNotFound)
}

// UpdateWhere implements gateway.Gateway.
func (g *Gateway) UpdateWhere(ctx context.Context, table, id string, expect gateway.Query, patch, out any) error {
	return g.update(ctx, table, id, &expect, patch, out, gateway.ErrConflict)
}

func (g *Gateway) update(ctx context.Context, table, id string, expect *gateway.Query, patch, out any, noMatch error) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	qb := g.client.From(table).Eq("id", id)
	if expect != nil {
		if err := applyFilters(qb, *expect); err != nil {
			return err
		}
	}
	resp, err := qb.ExecuteUpdate(ctx, patch)
	if err := check(resp, err); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return gateway.DecodeFirst(resp.Body, out, noMatch)
}

// Upsert implements gateway.Gateway.
func (g *Gateway) Upsert(ctx context.Context, table string, record, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	resp, err := g.client.From(table).Upsert("id").ExecuteInsert(ctx, record)
	if err := check(resp, err); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return gateway.DecodeFirst(resp.Body, out, fmt.Errorf("upsert %s: empty representation", table))
}

// Select implements gateway.Gateway.
func (g *Gateway) Select(ctx context.Context, table string, q gateway.Query, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	qb := g.client.From(table).Select("*")
	if err := applyFilters(qb, q); err != nil {
		return err
	}
	for _, o := range q.Order {
		qb.Order(o.Column, !o.Desc)
	}
	if q.Limit > 0 {
		qb.Limit(q.Limit)
	}
	resp, err := qb.Execute(ctx)
	if err := check(resp, err); err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	return gateway.Decode(resp.Body, out)
}

// Count implements gateway.Gateway.
func (g *Gateway) Count(ctx context.Context, table string, q gateway.Query) (int, error) {
	if err := gateway.CheckTable(table); err != nil {
		return 0, err
	}
	qb := g.client.From(table).Select("*").Count("exact", true)
	if err := applyFilters(qb, q); err != nil {
		return 0, err
	}
	resp, err := qb.Execute(ctx)
	if err := check(resp, err); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	n, err := resp.Count()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// CallProcedure implements gateway.Gateway.
func (g *Gateway) CallProcedure(ctx context.Context, name string, params map[string]any) error {
	if !gateway.ValidIdent(name) {
		return fmt.Errorf("invalid procedure name %q", name)
	}
	resp, err := g.client.RPC(ctx, name, params)
	if err := check(resp, err); err != nil {
		return fmt.Errorf("rpc %s: %w", name, err)
	}
	return nil
}

// Subscribe implements gateway.Gateway. The websocket is dialled on first use.
func (g *Gateway) Subscribe(ctx context.Context, table string, filter gateway.EventFilter, h gateway.Handler) (gateway.Subscription, error) {
	if err := gateway.CheckTable(table); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}

	g.rtMu.Lock()
	rt := g.realtime
	g.rtMu.Unlock()
	if rt == nil {
		return nil, fmt.Errorf("realtime is not configured")
	}
	if err := rt.Connect(ctx); err != nil {
		return nil, fmt.Errorf("realtime connect: %w", err)
	}

	cfg := client.PostgresChangesConfig{
		Event:  string(filter.Event),
		Schema: "public",
		Table:  table,
	}
	if filter.Column != "" {
		cfg.Filter = fmt.Sprintf("%s=eq.%s", filter.Column, filter.Value)
	}

	ch, err := rt.SubscribeToPostgresChanges(ctx, cfg, func(ev client.ChangeEvent) {
		change := gateway.Change{
			Table:     ev.Table,
			Event:     gateway.Event(ev.Type),
			Record:    ev.Record,
			OldRecord: ev.OldRecord,
		}
		if ts, err := time.Parse(time.RFC3339Nano, ev.CommitTimestamp); err == nil {
			change.At = ts
		}
		h(change)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	sub := &subscription{ch: ch}
	context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })
	return sub, nil
}

type subscription struct {
	once sync.Once
	ch   *client.Channel
	err  error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.ch.Unsubscribe()
	})
	return s.err
}

// applyFilters translates a Query into PostgREST filters.
func applyFilters(qb *client.QueryBuilder, q gateway.Query) error {
	for _, f := range q.Filters {
		switch f.Op {
		case gateway.OpEq:
			qb.Eq(f.Column, f.Value)
		case gateway.OpNeq:
			qb.Neq(f.Column, f.Value)
		case gateway.OpIn:
			qb.In(f.Column, f.Values)
		case gateway.OpILike:
			qb.ILike(f.Column, "*"+fmt.Sprint(f.Value)+"*")
		default:
			return fmt.Errorf("unsupported operator %q", f.Op)
		}
	}
	if len(q.AnyOf) == 0 {
		return nil
	}
	terms := make([]string, 0, len(q.AnyOf))
	for _, f := range q.AnyOf {
		term, err := orTerm(f)
		if err != nil {
			return err
		}
		terms = append(terms, term)
	}
	qb.Or(strings.Join(terms, ","))
	return nil
}

func orTerm(f gateway.Filter) (string, error) {
	switch f.Op {
	case gateway.OpEq, gateway.OpNeq:
		return fmt.Sprintf("%s.%s.%v", f.Column, f.Op, f.Value), nil
	case gateway.OpILike:
		return fmt.Sprintf("%s.ilike.*%v*", f.Column, f.Value), nil
	case gateway.OpIn:
		vals := make([]string, len(f.Values))
		for i, v := range f.Values {
			vals[i] = fmt.Sprint(v)
		}
		return fmt.Sprintf("%s.in.(%s)", f.Column, strings.Join(vals, ",")), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", f.Op)
	}
}

// check folds transport and API failures into one error. Unique and check
// constraint violations become gateway.ErrConflict.
func check(resp *client.Response, err error) error {
	if err != nil {
		return err
	}
	apiErr := resp.Error()
	if apiErr == nil {
		return nil
	}
	var e *client.APIError
	if errors.As(apiErr, &e) {
		if e.Code == "23505" || e.Code == "23514" || e.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", gateway.ErrConflict, e.Message)
		}
	}
	return apiErr
}
