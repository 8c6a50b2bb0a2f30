// Package memory implements an in-process gateway.Gateway. It evaluates the
// same query semantics as the database backends and is used by tests and
// local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/mutualaid/internal/gateway"
)

// Procedure is a stored procedure implemented against the locked tables.
type Procedure func(tables map[string]map[string]map[string]any, params map[string]any) error

// Gateway is a thread-safe in-memory gateway.
type Gateway struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]any
	procs  map[string]Procedure
	now    func() time.Time

	subMu   sync.RWMutex
	subs    map[int]*subscription
	nextSub int
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates an empty gateway with the built-in procedures registered.
func New() *Gateway {
	g := &Gateway{
		tables: make(map[string]map[string]map[string]any),
		procs:  make(map[string]Procedure),
		now:    func() time.Time { return time.Now().UTC() },
		subs:   make(map[int]*subscription),
	}
	g.procs[gateway.ProcIncrementTrustLevel] = incrementTrustLevel
	return g
}

// SetClock overrides the time source used for created_at defaults.
func (g *Gateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// RegisterProcedure adds or replaces a stored procedure.
func (g *Gateway) RegisterProcedure(name string, p Procedure) {
	g.mu.Lock()
	g.procs[name] = p
	g.mu.Unlock()
}

func incrementTrustLevel(tables map[string]map[string]map[string]any, params map[string]any) error {
	id := fmt.Sprint(params["user_id"])
	profiles := tables[gateway.TableProfiles]
	if profiles == nil {
		profiles = make(map[string]map[string]any)
		tables[gateway.TableProfiles] = profiles
	}
	row, ok := profiles[id]
	if !ok {
		// profiles are created lazily; the first increment creates one
		profiles[id] = map[string]any{"id": id, "trust_level": float64(1)}
		return nil
	}
	level, _ := row["trust_level"].(float64)
	row["trust_level"] = level + 1
	return nil
}

func (g *Gateway) table(name string) map[string]map[string]any {
	t, ok := g.tables[name]
	if !ok {
		t = make(map[string]map[string]any)
		g.tables[name] = t
	}
	return t
}

// Insert implements gateway.Gateway.
func (g *Gateway) Insert(_ context.Context, table string, record, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	row, err := gateway.ToRow(record)
	if err != nil {
		return err
	}

	g.mu.Lock()
	id, _ := row["id"].(string)
	if id == "" {
		id = uuid.NewString()
		row["id"] = id
	}
	t := g.table(table)
	if _, exists := t[id]; exists {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s %s already exists", gateway.ErrConflict, table, id)
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = g.now().Format(time.RFC3339Nano)
	}
	t[id] = row
	snapshot := cloneRow(row)
	g.mu.Unlock()

	g.notify(table, gateway.EventInsert, snapshot, nil)
	return encodeInto(snapshot, out)
}

// Update implements gateway.Gateway.
func (g *Gateway) Update(_ context.Context, table, id string, patch, out any) error {
	return g.update(table, id, nil, patch, out)
}

// UpdateWhere implements gateway.Gateway.
func (g *Gateway) UpdateWhere(_ context.Context, table, id string, expect gateway.Query, patch, out any) error {
	return g.update(table, id, &expect, patch, out)
}

func (g *Gateway) update(table, id string, expect *gateway.Query, patch, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	fields, err := gateway.ToRow(patch)
	if err != nil {
		return err
	}
	delete(fields, "id")

	g.mu.Lock()
	row, ok := g.table(table)[id]
	if !ok {
		g.mu.Unlock()
		if expect != nil {
			return gateway.ErrConflict
		}
		return gateway.ErrNotFound
	}
	if expect != nil && !matches(row, *expect) {
		g.mu.Unlock()
		return gateway.ErrConflict
	}
	old := cloneRow(row)
	for k, v := range fields {
		row[k] = v
	}
	snapshot := cloneRow(row)
	g.mu.Unlock()

	g.notify(table, gateway.EventUpdate, snapshot, old)
	return encodeInto(snapshot, out)
}

// Upsert implements gateway.Gateway.
func (g *Gateway) Upsert(_ context.Context, table string, record, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	row, err := gateway.ToRow(record)
	if err != nil {
		return err
	}
	id, _ := row["id"].(string)
	if id == "" {
		return fmt.Errorf("upsert into %s requires an id", table)
	}

	g.mu.Lock()
	t := g.table(table)
	ev := gateway.EventInsert
	var old map[string]any
	if existing, ok := t[id]; ok {
		ev = gateway.EventUpdate
		old = cloneRow(existing)
		for k, v := range row {
			existing[k] = v
		}
		row = existing
	} else {
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = g.now().Format(time.RFC3339Nano)
		}
		t[id] = row
	}
	snapshot := cloneRow(row)
	g.mu.Unlock()

	g.notify(table, ev, snapshot, old)
	return encodeInto(snapshot, out)
}

// Select implements gateway.Gateway.
func (g *Gateway) Select(_ context.Context, table string, q gateway.Query, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	rows := g.query(table, q)
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return gateway.Decode(data, out)
}

// Count implements gateway.Gateway.
func (g *Gateway) Count(_ context.Context, table string, q gateway.Query) (int, error) {
	if err := gateway.CheckTable(table); err != nil {
		return 0, err
	}
	q.Limit = 0
	q.Order = nil
	return len(g.query(table, q)), nil
}

func (g *Gateway) query(table string, q gateway.Query) []map[string]any {
	g.mu.RLock()
	rows := make([]map[string]any, 0)
	for _, row := range g.tables[table] {
		if matches(row, q) {
			rows = append(rows, cloneRow(row))
		}
	}
	g.mu.RUnlock()

	// ids break ties so results are deterministic
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range q.Order {
			c := compare(rows[i][o.Column], rows[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return fmt.Sprint(rows[i]["id"]) < fmt.Sprint(rows[j]["id"])
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows
}

// CallProcedure implements gateway.Gateway.
func (g *Gateway) CallProcedure(_ context.Context, name string, params map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.procs[name]
	if !ok {
		return fmt.Errorf("procedure %s not found", name)
	}
	return p(g.tables, params)
}

// Subscribe implements gateway.Gateway. Handlers run synchronously on the
// writer's goroutine after the write is committed.
func (g *Gateway) Subscribe(ctx context.Context, table string, filter gateway.EventFilter, h gateway.Handler) (gateway.Subscription, error) {
	if err := gateway.CheckTable(table); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}

	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	sub := &subscription{gw: g, id: id, table: table, filter: filter, handler: h}
	g.subs[id] = sub
	g.subMu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })
	g.subMu.Lock()
	sub.stop = stop
	g.subMu.Unlock()
	return sub, nil
}

func (g *Gateway) notify(table string, ev gateway.Event, record, old map[string]any) {
	g.subMu.RLock()
	var targets []*subscription
	for _, s := range g.subs {
		if s.table == table && s.filter.Matches(ev, record) {
			targets = append(targets, s)
		}
	}
	g.subMu.RUnlock()
	if len(targets) == 0 {
		return
	}

	change := gateway.Change{Table: table, Event: ev, At: time.Now().UTC()}
	change.Record, _ = json.Marshal(record)
	if old != nil {
		change.OldRecord, _ = json.Marshal(old)
	}
	for _, s := range targets {
		s.handler(change)
	}
}

type subscription struct {
	gw      *Gateway
	id      int
	table   string
	filter  gateway.EventFilter
	handler gateway.Handler
	stop    func() bool
}

func (s *subscription) Unsubscribe() error {
	s.gw.subMu.Lock()
	delete(s.gw.subs, s.id)
	stop := s.stop
	s.gw.subMu.Unlock()
	if stop != nil {
		stop()
	}
	return nil
}

func matches(row map[string]any, q gateway.Query) bool {
	for _, f := range q.Filters {
		if !matchFilter(row, f) {
			return false
		}
	}
	if len(q.AnyOf) == 0 {
		return true
	}
	for _, f := range q.AnyOf {
		if matchFilter(row, f) {
			return true
		}
	}
	return false
}

func matchFilter(row map[string]any, f gateway.Filter) bool {
	v, ok := row[f.Column]
	switch f.Op {
	case gateway.OpEq:
		return ok && v != nil && fmt.Sprint(v) == fmt.Sprint(f.Value)
	case gateway.OpNeq:
		return ok && v != nil && fmt.Sprint(v) != fmt.Sprint(f.Value)
	case gateway.OpIn:
		if !ok || v == nil {
			return false
		}
		for _, want := range f.Values {
			if fmt.Sprint(v) == fmt.Sprint(want) {
				return true
			}
		}
		return false
	case gateway.OpILike:
		if !ok || v == nil {
			return false
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(f.Value)))
	default:
		return false
	}
}

// compare orders JSON scalars. Strings that parse as RFC 3339 timestamps
// compare chronologically.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	case string:
		if bv, ok := b.(string); ok {
			ta, errA := time.Parse(time.RFC3339Nano, av)
			tb, errB := time.Parse(time.RFC3339Nano, bv)
			if errA == nil && errB == nil {
				return ta.Compare(tb)
			}
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func encodeInto(row map[string]any, out any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return gateway.Decode(data, out)
}
