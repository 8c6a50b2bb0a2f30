package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/mutualaid/internal/gateway"
)

func newMock(t *testing.T) (*Gateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), Config{}), mock
}

type exchange struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestSelectBuildsQuery(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT row_to_json(t)::text FROM exchanges AS t WHERE status IN ($1, $2) AND (helper_id = $3 OR requester_id = $4) ORDER BY created_at DESC LIMIT 50",
	)).
		WithArgs("pending", "accepted", "u1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).
			AddRow(`{"id":"e2","status":"accepted"}`).
			AddRow(`{"id":"e1","status":"pending"}`))

	q := gateway.Where(gateway.In("status", "pending", "accepted")).
		Or(gateway.Eq("helper_id", "u1"), gateway.Eq("requester_id", "u1")).
		OrderBy("created_at", true).
		WithLimit(50)

	var rows []exchange
	if err := g.Select(context.Background(), gateway.TableExchanges, q, &rows); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "e2" || rows[1].Status != "pending" {
		t.Errorf("rows = %+v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestSelectEscapesILike(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT row_to_json(t)::text FROM posts AS t WHERE title ILIKE $1")).
		WithArgs(`%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}))

	var rows []map[string]any
	if err := g.Select(context.Background(), gateway.TablePosts, gateway.Where(gateway.ILike("title", "50%")), &rows); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %v, want empty", rows)
	}
}

func TestInsertReturnsRow(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO exchanges AS t (helper_id, post_id, requester_id, status) VALUES ($1, $2, $3, $4) RETURNING row_to_json(t)::text",
	)).
		WithArgs("b", "p1", "a", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"e1","status":"pending"}`))

	var out exchange
	record := map[string]any{"post_id": "p1", "helper_id": "b", "requester_id": "a", "status": "pending"}
	if err := g.Insert(context.Background(), gateway.TableExchanges, record, &out); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if out.ID != "e1" {
		t.Errorf("ID = %q, want e1", out.ID)
	}
}

func TestInsertUniqueViolation(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectQuery("INSERT INTO verification_requests").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	err := g.Insert(context.Background(), gateway.TableVerificationRequests, map[string]any{"user_id": "u1"}, nil)
	if !errors.Is(err, gateway.ErrConflict) {
		t.Errorf("Insert() error = %v, want ErrConflict", err)
	}
}

func TestUpsertProfile(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO profiles AS t (id, skills, username) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id, skills = EXCLUDED.skills, username = EXCLUDED.username RETURNING row_to_json(t)::text",
	)).
		WithArgs("u1", "plumbing", "ann").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"u1","username":"ann","trust_level":4}`))

	var out struct {
		TrustLevel int `json:"trust_level"`
	}
	err := g.Upsert(context.Background(), gateway.TableProfiles, map[string]any{"id": "u1", "username": "ann", "skills": "plumbing"}, &out)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if out.TrustLevel != 4 {
		t.Errorf("TrustLevel = %d, want 4", out.TrustLevel)
	}
}

func TestUpdateWhereConflict(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE exchanges AS t SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 RETURNING row_to_json(t)::text",
	)).
		WithArgs("completed", "2024-01-01T00:00:00Z", "e1", "accepted").
		WillReturnError(sql.ErrNoRows)

	err := g.UpdateWhere(context.Background(), gateway.TableExchanges, "e1",
		gateway.Where(gateway.Eq("status", "accepted")),
		map[string]any{"status": "completed", "updated_at": "2024-01-01T00:00:00Z"}, nil)
	if !errors.Is(err, gateway.ErrConflict) {
		t.Errorf("UpdateWhere() error = %v, want ErrConflict", err)
	}
}

func TestUpdateMissingRow(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE posts AS t SET status = $1 WHERE id = $2")).
		WithArgs("closed", "p9").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}))

	err := g.Update(context.Background(), gateway.TablePosts, "p9", map[string]any{"status": "closed"}, nil)
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestCountAndProcedure(t *testing.T) {
	g, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM posts AS t WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("SELECT increment_trust_level(user_id => $1)")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := g.Count(ctx, gateway.TablePosts, gateway.Where(gateway.Eq("user_id", "u1")))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
	if err := g.CallProcedure(ctx, gateway.ProcIncrementTrustLevel, map[string]any{"user_id": "u1"}); err != nil {
		t.Errorf("CallProcedure() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestRejectsInvalidIdentifiers(t *testing.T) {
	g, _ := newMock(t)
	ctx := context.Background()

	var rows []map[string]any
	q := gateway.Where(gateway.Eq("status; drop table posts", "x"))
	if err := g.Select(ctx, gateway.TablePosts, q, &rows); err == nil {
		t.Error("Select() with injected column should fail")
	}
	if err := g.Insert(ctx, "pg_user", map[string]any{}, nil); !errors.Is(err, gateway.ErrUnknownTable) {
		t.Errorf("Insert() error = %v, want ErrUnknownTable", err)
	}
}

func TestSubscribeRequiresDSN(t *testing.T) {
	g, _ := newMock(t)
	if _, err := g.Subscribe(context.Background(), gateway.TablePosts, gateway.EventFilter{}, func(gateway.Change) {}); err == nil {
		t.Error("Subscribe() without DSN should fail")
	}
}

func TestDispatchRoutesNotifications(t *testing.T) {
	g, _ := newMock(t)

	var got []gateway.Change
	g.subs[0] = &subscription{gw: g, id: 0, table: gateway.TableExchanges,
		filter:  gateway.EventFilter{Column: "requester_id", Value: "a"},
		handler: func(c gateway.Change) { got = append(got, c) }}
	g.subs[1] = &subscription{gw: g, id: 1, table: gateway.TablePosts,
		filter:  gateway.EventFilter{Event: gateway.EventInsert},
		handler: func(c gateway.Change) { got = append(got, c) }}

	g.dispatch(`{"table":"exchanges","type":"UPDATE","record":{"id":"e1","requester_id":"a"},"old_record":{"id":"e1"},"commit_timestamp":"2024-03-01T10:00:00.5+00:00"}`)
	g.dispatch(`{"table":"exchanges","type":"DELETE","record":null,"old_record":{"id":"e2","requester_id":"a"}}`)
	g.dispatch(`{"table":"exchanges","type":"UPDATE","record":{"id":"e3","requester_id":"z"}}`)
	g.dispatch(`{"table":"posts","type":"UPDATE","record":{"id":"p1"}}`)

	if len(got) != 2 {
		t.Fatalf("got %d changes, want 2", len(got))
	}
	if got[0].Event != gateway.EventUpdate || got[0].At.IsZero() {
		t.Errorf("first change = %+v", got[0])
	}
	if got[1].Event != gateway.EventDelete || got[1].Record != nil || got[1].OldRecord == nil {
		t.Errorf("second change = %+v", got[1])
	}

	sub := g.subs[0]
	_ = sub.Unsubscribe()
	if _, ok := g.subs[0]; ok {
		t.Error("Unsubscribe() left the subscription registered")
	}
}
