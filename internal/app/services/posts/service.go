// Package posts manages the post catalog: creation, the filtered feed, the
// emergency feed and closing posts.
package posts

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/domain/profile"
	"github.com/R3E-Network/mutualaid/internal/app/services"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

// EmergencyPost is an emergency post with its owner's contact details.
type EmergencyPost struct {
	post.Post
	Owner profile.Contact `json:"owner"`
}

// Service manages posts.
type Service struct {
	store    storage.PostStore
	profiles storage.ProfileStore
	cache    cache.Cache
	ttl      time.Duration
	log      *logging.Logger
}

// New constructs a post service. A nil cache disables caching.
func New(store storage.PostStore, profiles storage.ProfileStore, c cache.Cache, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("posts")
	}
	return &Service{store: store, profiles: profiles, cache: c, ttl: time.Minute, log: log}
}

// WithTTL sets how long cached reads live.
func (s *Service) WithTTL(ttl time.Duration) {
	s.ttl = ttl
}

// Create validates and stores a new post owned by userID.
func (s *Service) Create(ctx context.Context, userID string, d post.Draft) (post.Post, error) {
	d.UserID = strings.TrimSpace(userID)
	d = d.Normalize()
	if d.Title == "" {
		return post.Post{}, errors.Validation("title is required")
	}
	if d.Location == "" {
		return post.Post{}, errors.Validation("location is required")
	}
	if d.Status != post.StatusActive {
		return post.Post{}, errors.Validation("new posts must be active")
	}
	if err := services.Validate(d); err != nil {
		return post.Post{}, err
	}

	p, err := s.store.CreatePost(ctx, d)
	if err != nil {
		return post.Post{}, services.FromGateway(err, "post")
	}
	s.invalidate(ctx, p.UserID)
	s.log.WithContext(ctx).
		WithField("post_id", p.ID).
		WithField("type", p.Type).
		WithField("urgency", p.Urgency).
		Info("post created")
	return p, nil
}

// RaiseEmergency creates an emergency need. A known templateID fills an
// empty title.
func (s *Service) RaiseEmergency(ctx context.Context, userID, templateID, title, description, location string) (post.Post, error) {
	title = strings.TrimSpace(title)
	if templateID = strings.TrimSpace(templateID); templateID != "" {
		tpl, ok := post.Template(templateID)
		if !ok {
			return post.Post{}, errors.Validation("unknown emergency template " + templateID)
		}
		if title == "" {
			title = tpl.Title
		}
	}
	p, err := s.Create(ctx, userID, post.Emergency(userID, title, description, location))
	if err != nil {
		return post.Post{}, err
	}
	s.log.WithContext(ctx).WithField("post_id", p.ID).Warn("emergency raised")
	return p, nil
}

// Get returns a post by id.
func (s *Service) Get(ctx context.Context, id string) (post.Post, error) {
	p, err := s.store.GetPost(ctx, id)
	return p, services.FromGateway(err, "post")
}

// Feed returns the newest active posts matching f in feed order.
func (s *Service) Feed(ctx context.Context, f post.Filter) ([]post.Post, error) {
	key := cache.FeedKey(url.Values{
		"type":     {string(f.Type)},
		"category": {string(f.Category)},
		"urgency":  {string(f.Urgency)},
		"q":        {f.Text},
	})
	return cache.Load(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]post.Post, error) {
		active, err := s.store.ListActivePosts(ctx, post.FeedLimit)
		if err != nil {
			return nil, services.FromGateway(err, "post")
		}
		return post.Feed(active, f), nil
	})
}

// EmergencyFeed returns the newest active emergency posts with their owners'
// contact details.
func (s *Service) EmergencyFeed(ctx context.Context) ([]EmergencyPost, error) {
	return cache.Load(ctx, s.cache, cache.ScopeEmergency, s.ttl, func(ctx context.Context) ([]EmergencyPost, error) {
		list, err := s.store.ListEmergencyPosts(ctx, post.EmergencyFeedLimit)
		if err != nil {
			return nil, services.FromGateway(err, "post")
		}
		owners := make([]string, 0, len(list))
		seen := make(map[string]bool, len(list))
		for _, p := range list {
			if !seen[p.UserID] {
				seen[p.UserID] = true
				owners = append(owners, p.UserID)
			}
		}
		contacts := make(map[string]profile.Contact, len(owners))
		if s.profiles != nil && len(owners) > 0 {
			profs, err := s.profiles.GetProfiles(ctx, owners)
			if err != nil {
				return nil, services.FromGateway(err, "profile")
			}
			for _, pr := range profs {
				contacts[pr.ID] = profile.ContactOf(pr)
			}
		}
		out := make([]EmergencyPost, len(list))
		for i, p := range list {
			out[i] = EmergencyPost{Post: p, Owner: contacts[p.UserID]}
		}
		return out, nil
	})
}

// ListByUser returns userID's posts, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]post.Post, error) {
	list, err := s.store.ListPostsByUser(ctx, userID, limit)
	return list, services.FromGateway(err, "post")
}

// Close marks an active post closed. Only its owner may close it.
func (s *Service) Close(ctx context.Context, userID, postID string) (post.Post, error) {
	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return post.Post{}, services.FromGateway(err, "post")
	}
	if p.UserID != userID {
		s.log.LogSecurityEvent(ctx, "post_close_denied", map[string]interface{}{"post_id": postID})
		return post.Post{}, errors.Forbidden("only the owner may close a post", nil)
	}
	if p.Status == post.StatusClosed {
		return post.Post{}, errors.Conflict("post is already closed", nil)
	}

	closed, err := s.store.ClosePost(ctx, postID, userID)
	if err != nil {
		return post.Post{}, services.FromGateway(err, "post")
	}
	s.invalidate(ctx, userID)
	s.log.WithContext(ctx).WithField("post_id", postID).Info("post closed")
	return closed, nil
}

func (s *Service) invalidate(ctx context.Context, ownerID string) {
	if err := cache.Invalidate(ctx, s.cache, cache.ScopeFeed, cache.ScopeEmergency, cache.DashboardScope(ownerID)); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("cache invalidation failed")
	}
}
