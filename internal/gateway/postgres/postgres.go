// Package postgres implements gateway.Gateway directly against PostgreSQL.
//
// Rows travel as JSON (row_to_json) so the generic gateway contract holds
// without per-table scanning code. Changes are streamed with LISTEN/NOTIFY;
// the notify trigger installed by the migrations publishes on ChangeChannel.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

// ChangeChannel is the NOTIFY channel used by the change trigger.
const ChangeChannel = "mutualaid_changes"

// Config configures the gateway.
type Config struct {
	// DSN is required for Subscribe, which opens a dedicated listener
	// connection.
	DSN    string
	Logger *logging.Logger
}

// Gateway is the PostgreSQL-backed gateway.
type Gateway struct {
	db  *sqlx.DB
	dsn string
	log *logging.Logger

	mu       sync.Mutex
	listener *pq.Listener
	subs     map[int]*subscription
	nextSub  int
}

var _ gateway.Gateway = (*Gateway)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, log *logging.Logger) (*Gateway, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db, Config{DSN: dsn, Logger: log}), nil
}

// New wraps an open database handle.
func New(db *sqlx.DB, cfg Config) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDiscard()
	}
	return &Gateway{
		db:   db,
		dsn:  cfg.DSN,
		log:  log.Component("postgres-gateway"),
		subs: make(map[int]*subscription),
	}
}

// DB exposes the handle for migrations.
func (g *Gateway) DB() *sqlx.DB {
	return g.db
}

// Close stops the listener and closes the pool.
func (g *Gateway) Close() error {
	g.mu.Lock()
	l := g.listener
	g.listener = nil
	g.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}
	return g.db.Close()
}

// Insert implements gateway.Gateway.
func (g *Gateway) Insert(ctx context.Context, table string, record, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	row, err := gateway.ToRow(record)
	if err != nil {
		return err
	}
	var b builder
	query, err := b.insert(table, row, false)
	if err != nil {
		return err
	}

	var raw string
	if err := g.db.GetContext(ctx, &raw, query, b.args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, mapErr(err))
	}
	return gateway.Decode([]byte(raw), out)
}

// Upsert implements gateway.Gateway.
func (g *Gateway) Upsert(ctx context.Context, table string, record, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	row, err := gateway.ToRow(record)
	if err != nil {
		return err
	}
	if id, _ := row["id"].(string); id == "" {
		return fmt.Errorf("upsert into %s requires an id", table)
	}
	var b builder
	query, err := b.insert(table, row, true)
	if err != nil {
		return err
	}

	var raw string
	if err := g.db.GetContext(ctx, &raw, query, b.args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, mapErr(err))
	}
	return gateway.Decode([]byte(raw), out)
}

// Update implements gateway.Gateway.
func (g *Gateway) Update(ctx context.Context, table, id string, patch, out any) error {
	return g.update(ctx, table, id, gateway.Query{}, patch, out, gateway.ErrNotFound)
}

// UpdateWhere implements gateway.Gateway.
func (g *Gateway) UpdateWhere(ctx context.Context, table, id string, expect gateway.Query, patch, out any) error {
	return g.update(ctx, table, id, expect, patch, out, gateway.ErrConflict)
}

func (g *Gateway) update(ctx context.Context, table, id string, expect gateway.Query, patch, out any, noMatch error) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	fields, err := gateway.ToRow(patch)
	if err != nil {
		return err
	}
	delete(fields, "id")
	if len(fields) == 0 {
		return fmt.Errorf("update %s: empty patch", table)
	}

	var b builder
	cols := sortedKeys(fields)
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if !gateway.ValidIdent(c) {
			return fmt.Errorf("invalid column %q", c)
		}
		sets = append(sets, c+" = "+b.arg(sqlValue(fields[c])))
	}
	expect.Filters = append([]gateway.Filter{gateway.Eq("id", id)}, expect.Filters...)
	where, err := b.where(expect)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s AS t SET %s%s RETURNING row_to_json(t)::text", table, strings.Join(sets, ", "), where)

	var raw string
	if err := g.db.GetContext(ctx, &raw, query, b.args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return noMatch
		}
		return fmt.Errorf("update %s: %w", table, mapErr(err))
	}
	return gateway.Decode([]byte(raw), out)
}

// Select implements gateway.Gateway.
func (g *Gateway) Select(ctx context.Context, table string, q gateway.Query, out any) error {
	if err := gateway.CheckTable(table); err != nil {
		return err
	}
	var b builder
	where, err := b.where(q)
	if err != nil {
		return err
	}
	query := "SELECT row_to_json(t)::text FROM " + table + " AS t" + where
	if len(q.Order) > 0 {
		keys := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			if !gateway.ValidIdent(o.Column) {
				return fmt.Errorf("invalid order column %q", o.Column)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			keys = append(keys, o.Column+" "+dir)
		}
		query += " ORDER BY " + strings.Join(keys, ", ")
	}
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	var rows []string
	if err := g.db.SelectContext(ctx, &rows, query, b.args...); err != nil {
		return fmt.Errorf("select %s: %w", table, mapErr(err))
	}
	return gateway.Decode([]byte("["+strings.Join(rows, ",")+"]"), out)
}

// Count implements gateway.Gateway.
func (g *Gateway) Count(ctx context.Context, table string, q gateway.Query) (int, error) {
	if err := gateway.CheckTable(table); err != nil {
		return 0, err
	}
	var b builder
	where, err := b.where(q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := g.db.GetContext(ctx, &n, "SELECT count(*) FROM "+table+" AS t"+where, b.args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, mapErr(err))
	}
	return n, nil
}

// CallProcedure implements gateway.Gateway using named argument notation.
func (g *Gateway) CallProcedure(ctx context.Context, name string, params map[string]any) error {
	if !gateway.ValidIdent(name) {
		return fmt.Errorf("invalid procedure name %q", name)
	}
	var b builder
	names := sortedKeys(params)
	args := make([]string, 0, len(names))
	for _, n := range names {
		if !gateway.ValidIdent(n) {
			return fmt.Errorf("invalid parameter %q", n)
		}
		args = append(args, n+" => "+b.arg(sqlValue(params[n])))
	}
	query := fmt.Sprintf("SELECT %s(%s)", name, strings.Join(args, ", "))
	if _, err := g.db.ExecContext(ctx, query, b.args...); err != nil {
		return fmt.Errorf("call %s: %w", name, mapErr(err))
	}
	return nil
}

// builder accumulates positional arguments.
type builder struct {
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) insert(table string, row map[string]any, upsert bool) (string, error) {
	cols := sortedKeys(row)
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s AS t DEFAULT VALUES RETURNING row_to_json(t)::text", table), nil
	}
	placeholders := make([]string, 0, len(cols))
	for _, c := range cols {
		if !gateway.ValidIdent(c) {
			return "", fmt.Errorf("invalid column %q", c)
		}
		placeholders = append(placeholders, b.arg(sqlValue(row[c])))
	}
	query := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if upsert {
		sets := make([]string, 0, len(cols))
		for _, c := range cols {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
		query += " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return query + " RETURNING row_to_json(t)::text", nil
}

func (b *builder) where(q gateway.Query) (string, error) {
	clauses := make([]string, 0, len(q.Filters)+1)
	for _, f := range q.Filters {
		c, err := b.filter(f)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, c)
	}
	if len(q.AnyOf) > 0 {
		alts := make([]string, 0, len(q.AnyOf))
		for _, f := range q.AnyOf {
			c, err := b.filter(f)
			if err != nil {
				return "", err
			}
			alts = append(alts, c)
		}
		clauses = append(clauses, "("+strings.Join(alts, " OR ")+")")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func (b *builder) filter(f gateway.Filter) (string, error) {
	if !gateway.ValidIdent(f.Column) {
		return "", fmt.Errorf("invalid column %q", f.Column)
	}
	switch f.Op {
	case gateway.OpEq:
		return f.Column + " = " + b.arg(f.Value), nil
	case gateway.OpNeq:
		return f.Column + " <> " + b.arg(f.Value), nil
	case gateway.OpIn:
		if len(f.Values) == 0 {
			return "false", nil
		}
		ph := make([]string, len(f.Values))
		for i, v := range f.Values {
			ph[i] = b.arg(v)
		}
		return f.Column + " IN (" + strings.Join(ph, ", ") + ")", nil
	case gateway.OpILike:
		return f.Column + " ILIKE " + b.arg("%"+escapeLike(fmt.Sprint(f.Value))+"%"), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", f.Op)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// sqlValue converts a decoded JSON value into a driver argument.
func sqlValue(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case map[string]any, []any:
		data, _ := json.Marshal(x)
		return string(data)
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mapErr turns constraint violations into gateway.ErrConflict.
func mapErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "23514":
			return fmt.Errorf("%w: %s", gateway.ErrConflict, pqErr.Message)
		}
	}
	return err
}

// Subscribe implements gateway.Gateway. The first call opens a LISTEN
// connection shared by all subscriptions.
func (g *Gateway) Subscribe(ctx context.Context, table string, filter gateway.EventFilter, h gateway.Handler) (gateway.Subscription, error) {
	if err := gateway.CheckTable(table); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}

	g.mu.Lock()
	if err := g.ensureListenerLocked(); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	id := g.nextSub
	g.nextSub++
	sub := &subscription{gw: g, id: id, table: table, filter: filter, handler: h}
	g.subs[id] = sub
	g.mu.Unlock()

	context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })
	return sub, nil
}

func (g *Gateway) ensureListenerLocked() error {
	if g.listener != nil {
		return nil
	}
	if g.dsn == "" {
		return fmt.Errorf("change feed requires a DSN")
	}
	l := pq.NewListener(g.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			g.log.WithError(err).WithField("event", int(ev)).Warn("listener event")
		}
	})
	if err := l.Listen(ChangeChannel); err != nil {
		_ = l.Close()
		return fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	g.listener = l
	go g.listen(l)
	return nil
}

func (g *Gateway) listen(l *pq.Listener) {
	for n := range l.Notify {
		// nil marks a reconnect; missed changes are not replayed
		if n == nil {
			g.log.Warn("change listener reconnected")
			continue
		}
		g.dispatch(n.Extra)
	}
}

// dispatch routes one NOTIFY payload of the form
// {"table":..,"type":..,"record":..,"old_record":..,"commit_timestamp":..}.
func (g *Gateway) dispatch(payload string) {
	parsed := gjson.Parse(payload)
	change := gateway.Change{
		Table: parsed.Get("table").String(),
		Event: gateway.Event(parsed.Get("type").String()),
	}
	if rec := parsed.Get("record"); rec.Exists() && rec.Type != gjson.Null {
		change.Record = json.RawMessage(rec.Raw)
	}
	if old := parsed.Get("old_record"); old.Exists() && old.Type != gjson.Null {
		change.OldRecord = json.RawMessage(old.Raw)
	}
	if ts, err := time.Parse(time.RFC3339Nano, parsed.Get("commit_timestamp").String()); err == nil {
		change.At = ts
	}

	// deletes carry only the old row
	source := change.Record
	if source == nil {
		source = change.OldRecord
	}
	var record map[string]any
	_ = json.Unmarshal(source, &record)

	g.mu.Lock()
	var targets []*subscription
	for _, s := range g.subs {
		if s.table == change.Table && s.filter.Matches(change.Event, record) {
			targets = append(targets, s)
		}
	}
	g.mu.Unlock()

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
}

func (s *subscription) Unsubscribe() error {
	s.gw.mu.Lock()
	delete(s.gw.subs, s.id)
	s.gw.mu.Unlock()
	return nil
}
