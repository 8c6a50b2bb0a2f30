// Package watch turns gateway change events into cache invalidations so that
// writes made outside this process are picked up on the next read.
package watch

import (
	"context"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/app/system"
	"github.com/R3E-Network/mutualaid/internal/gateway"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

var _ system.Service = (*Watcher)(nil)

// Watcher subscribes to post and exchange changes.
type Watcher struct {
	gw    gateway.Gateway
	cache cache.Cache
	log   *logging.Logger

	mu      sync.Mutex
	subs    []gateway.Subscription
	cancel  context.CancelFunc
	running bool

	// OnChange, if set, is called after each handled change.
	OnChange func(gateway.Change)
}

// New creates a watcher.
func New(gw gateway.Gateway, c cache.Cache, log *logging.Logger) *Watcher {
	if log == nil {
		log = logging.NewDefault("watch")
	}
	return &Watcher{gw: gw, cache: c, log: log}
}

func (w *Watcher) Name() string { return "change-watcher" }

// Start subscribes to posts INSERT and UPDATE and to every exchange event.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())

	type want struct {
		table string
		event gateway.Event
	}
	for _, s := range []want{
		{gateway.TablePosts, gateway.EventInsert},
		{gateway.TablePosts, gateway.EventUpdate},
		{gateway.TableExchanges, gateway.EventAll},
	} {
		sub, err := w.gw.Subscribe(runCtx, s.table, gateway.EventFilter{Event: s.event}, w.handle)
		if err != nil {
			cancel()
			w.unsubscribeLocked()
			return err
		}
		w.subs = append(w.subs, sub)
	}
	w.cancel = cancel
	w.running = true
	w.log.WithContext(ctx).Info("change watcher started")
	return nil
}

// Stop drops every subscription.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.unsubscribeLocked()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.running = false
	w.log.WithContext(ctx).Info("change watcher stopped")
	return nil
}

func (w *Watcher) unsubscribeLocked() {
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			w.log.WithError(err).Warn("unsubscribe failed")
		}
	}
	w.subs = nil
}

// Scopes returns the cache scopes a change affects.
func Scopes(ch gateway.Change) []string {
	field := func(name string) string {
		if v := gjson.GetBytes(ch.Record, name); v.Exists() {
			return v.String()
		}
		return gjson.GetBytes(ch.OldRecord, name).String()
	}
	var scopes []string
	switch ch.Table {
	case gateway.TablePosts:
		scopes = append(scopes, cache.ScopeFeed, cache.ScopeEmergency)
		if owner := field("user_id"); owner != "" {
			scopes = append(scopes, cache.DashboardScope(owner))
		}
		// exchange lists embed post summaries
		if ch.Event == gateway.EventUpdate {
			scopes = append(scopes, cache.ScopeExchanges)
		}
	case gateway.TableExchanges:
		for _, col := range []string{"helper_id", "requester_id"} {
			if id := field(col); id != "" {
				scopes = append(scopes, cache.ExchangesScope(id), cache.DashboardScope(id))
			}
		}
	}
	return scopes
}

func (w *Watcher) handle(ch gateway.Change) {
	ctx := context.Background()
	scopes := Scopes(ch)
	if err := cache.Invalidate(ctx, w.cache, scopes...); err != nil {
		w.log.WithError(err).WithField("table", ch.Table).Warn("invalidate on change failed")
	} else {
		w.log.WithField("table", ch.Table).WithField("event", ch.Event).Debug("change invalidated cache")
	}
	if w.OnChange != nil {
		w.OnChange(ch)
	}
}
