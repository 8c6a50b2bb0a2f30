// Package client provides realtime subscription support for Supabase.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Change event types.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAll    = "*"
)

// RealtimeClient handles Supabase Realtime subscriptions over the phoenix
// channel protocol.
type RealtimeClient struct {
	mu       sync.RWMutex
	url      string
	apiKey   string
	conn     *websocket.Conn
	channels map[string]*Channel
	done     chan struct{}
	ref      int

	heartbeatInterval time.Duration
}

// ChangeEvent is one postgres_changes notification.
type ChangeEvent struct {
	Type            string
	Schema          string
	Table           string
	Record          json.RawMessage
	OldRecord       json.RawMessage
	CommitTimestamp string
}

// ChangeHandler handles realtime change events.
type ChangeHandler func(event ChangeEvent)

// PostgresChangesConfig configures a postgres changes subscription.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE, *
	Schema string
	Table  string
	Filter string // optional, e.g. "helper_id=eq.42"
}

// Channel represents a realtime channel.
type Channel struct {
	client  *RealtimeClient
	topic   string
	config  PostgresChangesConfig
	handler ChangeHandler
	joined  bool
	joinRef string
}

// NewRealtimeClient creates a new realtime client.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[len("https"):]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:               wsURL,
		apiKey:            apiKey,
		channels:          make(map[string]*Channel),
		done:              make(chan struct{}),
		heartbeatInterval: 30 * time.Second,
	}
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.handleMessages(conn, r.done)
	go r.heartbeat(r.done)

	return nil
}

// Disconnect closes the WebSocket connection.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)

	err := r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.conn.Close()
	r.conn = nil
	for _, ch := range r.channels {
		ch.joined = false
	}
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

func (r *RealtimeClient) nextRefLocked() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

// SubscribeToPostgresChanges joins a channel streaming changes of one table.
func (r *RealtimeClient) SubscribeToPostgresChanges(ctx context.Context, cfg PostgresChangesConfig, handler ChangeHandler) (*Channel, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = EventAll
	}

	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil, fmt.Errorf("realtime client not connected")
	}
	if _, exists := r.channels[topic]; exists {
		return nil, fmt.Errorf("already subscribed to %s", topic)
	}

	ch := &Channel{client: r, topic: topic, config: cfg, handler: handler}
	ref := r.nextRefLocked()
	ch.joinRef = ref

	change := map[string]any{
		"event":  cfg.Event,
		"schema": cfg.Schema,
		"table":  cfg.Table,
	}
	if cfg.Filter != "" {
		change["filter"] = cfg.Filter
	}
	msg := map[string]any{
		"topic": topic,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []any{change},
			},
			"access_token": r.apiKey,
		},
		"ref":      ref,
		"join_ref": ref,
	}

	if err := r.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}

	ch.joined = true
	r.channels[topic] = ch
	return ch, nil
}

// Topic returns the channel topic.
func (c *Channel) Topic() string {
	return c.topic
}

// Unsubscribe leaves the channel.
func (c *Channel) Unsubscribe() error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()

	delete(c.client.channels, c.topic)
	if !c.joined || c.client.conn == nil {
		c.joined = false
		return nil
	}

	msg := map[string]any{
		"topic":    c.topic,
		"event":    "phx_leave",
		"payload":  map[string]any{},
		"ref":      c.client.nextRefLocked(),
		"join_ref": c.joinRef,
	}
	c.joined = false

	if err := c.client.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

func (r *RealtimeClient) handleMessages(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if gjson.GetBytes(message, "event").String() != "postgres_changes" {
			continue
		}
		r.dispatch(gjson.GetBytes(message, "topic").String(), parseChange(message))
	}
}

func parseChange(message []byte) ChangeEvent {
	data := gjson.GetBytes(message, "payload.data")
	event := ChangeEvent{
		Type:            data.Get("type").String(),
		Schema:          data.Get("schema").String(),
		Table:           data.Get("table").String(),
		CommitTimestamp: data.Get("commit_timestamp").String(),
	}
	if rec := data.Get("record"); rec.Exists() {
		event.Record = json.RawMessage(rec.Raw)
	}
	if old := data.Get("old_record"); old.Exists() {
		event.OldRecord = json.RawMessage(old.Raw)
	}
	return event
}

func (r *RealtimeClient) dispatch(topic string, event ChangeEvent) {
	r.mu.RLock()
	ch, ok := r.channels[topic]
	r.mu.RUnlock()
	if !ok || ch.handler == nil {
		return
	}
	if ch.config.Event != EventAll && ch.config.Event != event.Type {
		return
	}
	go ch.handler(event)
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				msg := map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     r.nextRefLocked(),
				}
				_ = r.conn.WriteJSON(msg)
			}
			r.mu.Unlock()
		}
	}
}
