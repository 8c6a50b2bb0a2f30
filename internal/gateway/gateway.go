// Package gateway defines the persistence boundary of the mutual-aid service.
//
// A Gateway stores JSON-shaped rows in a fixed set of tables, evaluates simple
// conjunctive queries, calls stored procedures and streams row changes. Records
// passed in are encoded with encoding/json; results are decoded into the
// caller's out value, so domain types only need json tags.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Tables.
const (
	TablePosts                = "posts"
	TableProfiles             = "profiles"
	TableExchanges            = "exchanges"
	TableVerificationRequests = "verification_requests"
)

// ProcIncrementTrustLevel is the stored procedure bumping a profile's trust level.
const ProcIncrementTrustLevel = "increment_trust_level"

var (
	// ErrNotFound is returned when an update targets a missing row.
	ErrNotFound = errors.New("gateway: row not found")
	// ErrConflict is returned when a conditional update matched no row or a
	// constraint rejected the write.
	ErrConflict = errors.New("gateway: conflict")
	// ErrUnknownTable is returned for tables outside the schema.
	ErrUnknownTable = errors.New("gateway: unknown table")
)

// Op is a filter operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpIn    Op = "in"
	OpILike Op = "ilike" // case-insensitive substring
)

// Filter is one predicate on a column.
type Filter struct {
	Column string
	Op     Op
	Value  any
	Values []any // OpIn only
}

// Eq matches rows whose column equals v.
func Eq(column string, v any) Filter { return Filter{Column: column, Op: OpEq, Value: v} }

// Neq matches rows whose column differs from v.
func Neq(column string, v any) Filter { return Filter{Column: column, Op: OpNeq, Value: v} }

// In matches rows whose column is one of vs.
func In(column string, vs ...any) Filter { return Filter{Column: column, Op: OpIn, Values: vs} }

// ILike matches rows whose column contains substr, ignoring case.
func ILike(column, substr string) Filter { return Filter{Column: column, Op: OpILike, Value: substr} }

// Order sorts by a column.
type Order struct {
	Column string
	Desc   bool
}

// Query is a conjunction of Filters, optionally ANDed with one disjunctive
// group, then ordered and limited.
type Query struct {
	Filters []Filter
	AnyOf   []Filter
	Order   []Order
	Limit   int
}

// Where starts a query from filters.
func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

// Or sets the disjunctive group.
func (q Query) Or(filters ...Filter) Query {
	q.AnyOf = filters
	return q
}

// OrderBy appends a sort key.
func (q Query) OrderBy(column string, desc bool) Query {
	q.Order = append(append([]Order(nil), q.Order...), Order{Column: column, Desc: desc})
	return q
}

// WithLimit caps the number of rows returned. Zero means no limit.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Event is a change event type.
type Event string

const (
	EventInsert Event = "INSERT"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
	EventAll    Event = "*"
)

// EventFilter narrows a subscription. An empty Event means EventAll; an empty
// Column means every row.
type EventFilter struct {
	Event  Event
	Column string
	Value  string
}

// Matches reports whether a change of type ev on record passes the filter.
func (f EventFilter) Matches(ev Event, record map[string]any) bool {
	if f.Event != "" && f.Event != EventAll && f.Event != ev {
		return false
	}
	if f.Column == "" {
		return true
	}
	v, ok := record[f.Column]
	return ok && fmt.Sprint(v) == f.Value
}

// Change is one row change delivered to subscribers.
type Change struct {
	Table     string
	Event     Event
	Record    json.RawMessage
	OldRecord json.RawMessage
	At        time.Time
}

// Handler receives changes. Handlers must not block for long.
type Handler func(Change)

// Subscription is a live change subscription.
type Subscription interface {
	Unsubscribe() error
}

// Gateway is the persistence boundary. Implementations are safe for
// concurrent use.
type Gateway interface {
	// Insert stores record and decodes the stored row into out.
	Insert(ctx context.Context, table string, record, out any) error
	// Update patches the row with the given id and decodes it into out.
	// Missing rows yield ErrNotFound.
	Update(ctx context.Context, table, id string, patch, out any) error
	// UpdateWhere patches the row with the given id only if it also matches
	// expect. No match yields ErrConflict.
	UpdateWhere(ctx context.Context, table, id string, expect Query, patch, out any) error
	// Upsert inserts record or merges it into the row sharing its id.
	Upsert(ctx context.Context, table string, record, out any) error
	// Select decodes matching rows into out, which must point to a slice.
	Select(ctx context.Context, table string, q Query, out any) error
	// Count returns the number of matching rows. Order and Limit are ignored.
	Count(ctx context.Context, table string, q Query) (int, error)
	// CallProcedure invokes a stored procedure with named parameters.
	CallProcedure(ctx context.Context, name string, params map[string]any) error
	// Subscribe streams changes of table to h until the subscription is
	// cancelled or ctx ends.
	Subscribe(ctx context.Context, table string, filter EventFilter, h Handler) (Subscription, error)
}

var knownTables = map[string]struct{}{
	TablePosts:                {},
	TableProfiles:             {},
	TableExchanges:            {},
	TableVerificationRequests: {},
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// CheckTable returns ErrUnknownTable unless table is part of the schema.
func CheckTable(table string) error {
	if _, ok := knownTables[table]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

// ValidIdent reports whether s is a plain lower-case SQL identifier.
func ValidIdent(s string) bool {
	return identRe.MatchString(s)
}

// ToRow encodes a record into a column map.
func ToRow(record any) (map[string]any, error) {
	if m, ok := record.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return normalize(out)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("record must encode to a JSON object: %w", err)
	}
	return row, nil
}

// normalize round-trips a map through JSON so that values such as time.Time
// take their wire form.
func normalize(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// Decode decodes raw JSON into out. A nil out discards the value.
func Decode(raw []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// DecodeFirst decodes the first element of a JSON array into out. An empty
// array yields notFound.
func DecodeFirst(raw []byte, out any, notFound error) error {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	if len(rows) == 0 {
		return notFound
	}
	return Decode(rows[0], out)
}
