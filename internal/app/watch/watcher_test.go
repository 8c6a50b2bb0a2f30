package watch

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/gateway/memory"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

func TestScopes(t *testing.T) {
	tests := []struct {
		name string
		ch   gateway.Change
		want []string
	}{
		{
			name: "post insert",
			ch:   gateway.Change{Table: gateway.TablePosts, Event: gateway.EventInsert, Record: json.RawMessage(`{"user_id":"u1"}`)},
			want: []string{cache.ScopeFeed, cache.ScopeEmergency, cache.DashboardScope("u1")},
		},
		{
			name: "post update",
			ch:   gateway.Change{Table: gateway.TablePosts, Event: gateway.EventUpdate, Record: json.RawMessage(`{"user_id":"u1"}`)},
			want: []string{cache.ScopeFeed, cache.ScopeEmergency, cache.DashboardScope("u1"), cache.ScopeExchanges},
		},
		{
			name: "exchange delete uses old record",
			ch:   gateway.Change{Table: gateway.TableExchanges, Event: gateway.EventDelete, OldRecord: json.RawMessage(`{"helper_id":"h","requester_id":"r"}`)},
			want: []string{cache.ExchangesScope("h"), cache.DashboardScope("h"), cache.ExchangesScope("r"), cache.DashboardScope("r")},
		},
		{
			name: "profiles are not watched",
			ch:   gateway.Change{Table: gateway.TableProfiles, Event: gateway.EventUpdate},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scopes(tt.ch); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Scopes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatcherInvalidatesOnExternalWrite(t *testing.T) {
	ctx := context.Background()
	gw := memory.New()
	c := cache.NewMemory()
	w := New(gw, c, logging.NewDiscard())

	var seen []gateway.Change
	w.OnChange = func(ch gateway.Change) { seen = append(seen, ch) }

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = c.Set(ctx, cache.ExchangesScope("h")+"list:", []byte("[]"), 0)
	_ = c.Set(ctx, cache.ScopeFeed, []byte("[]"), 0)

	if err := gw.Insert(ctx, gateway.TableExchanges, map[string]any{"post_id": "p", "helper_id": "h", "requester_id": "r", "status": "pending"}, nil); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Get(ctx, cache.ExchangesScope("h")+"list:"); v != nil {
		t.Error("exchange list not invalidated")
	}
	if v, _ := c.Get(ctx, cache.ScopeFeed); v == nil {
		t.Error("feed invalidated by an exchange change")
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := gw.Insert(ctx, gateway.TablePosts, map[string]any{"user_id": "u1"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 {
		t.Errorf("handled %d changes, want 1 (none after Stop)", len(seen))
	}
}
