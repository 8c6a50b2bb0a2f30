// Package dashboard rolls up a user's posts and exchanges.
package dashboard

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/app/domain/exchange"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/services"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

const (
	recentPostsLimit = 5
	activityLimit    = 10
)

// Metrics are the headline counters.
type Metrics struct {
	TotalPosts      int `json:"total_posts"`
	ActiveExchanges int `json:"active_exchanges"`
	CompletedHelps  int `json:"completed_helps"`
	CommunityImpact int `json:"community_impact"`
}

// Activity is one recent-activity item.
type Activity struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Title    string    `json:"title"`
	PostType post.Type `json:"post_type,omitempty"`
	At       time.Time `json:"at"`
}

// Dashboard is the joined view.
type Dashboard struct {
	Metrics        Metrics    `json:"metrics"`
	RecentActivity []Activity `json:"recent_activity"`
}

// Service builds dashboards.
type Service struct {
	posts     storage.PostStore
	exchanges storage.ExchangeStore
	cache     cache.Cache
	ttl       time.Duration
	log       *logging.Logger
}

// New constructs a dashboard service.
func New(posts storage.PostStore, exchanges storage.ExchangeStore, c cache.Cache, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("dashboard")
	}
	return &Service{posts: posts, exchanges: exchanges, cache: c, ttl: time.Minute, log: log}
}

// Get fetches the metrics and the recent activity concurrently and joins
// them. Any failed read fails the whole dashboard.
func (s *Service) Get(ctx context.Context, userID string) (Dashboard, error) {
	return cache.Load(ctx, s.cache, cache.DashboardScope(userID), s.ttl, func(ctx context.Context) (Dashboard, error) {
		var (
			d      Dashboard
			recent []post.Post
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := s.posts.CountPostsByUser(gctx, userID)
			d.Metrics.TotalPosts = n
			return err
		})
		g.Go(func() error {
			n, err := s.exchanges.CountExchanges(gctx, userID, exchange.StatusPending, exchange.StatusAccepted)
			d.Metrics.ActiveExchanges = n
			return err
		})
		g.Go(func() error {
			n, err := s.exchanges.CountExchanges(gctx, userID, exchange.StatusCompleted)
			d.Metrics.CompletedHelps = n
			return err
		})
		g.Go(func() error {
			var err error
			recent, err = s.posts.ListPostsByUser(gctx, userID, recentPostsLimit)
			return err
		})
		if err := g.Wait(); err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("dashboard read failed")
			return Dashboard{}, services.FromGateway(err, "dashboard")
		}
		d.Metrics.CommunityImpact = d.Metrics.CompletedHelps
		d.RecentActivity = activity(recent)
		return d, nil
	})
}

func activity(recent []post.Post) []Activity {
	out := make([]Activity, 0, len(recent))
	for _, p := range recent {
		out = append(out, Activity{
			ID:       "post-" + p.ID,
			Kind:     "post",
			Title:    "Posted: " + p.Title,
			PostType: p.Type,
			At:       p.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > activityLimit {
		out = out[:activityLimit]
	}
	return out
}
