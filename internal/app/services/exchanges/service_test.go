package exchanges

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/mutualaid/internal/app/cache"
	"github.com/R3E-Network/mutualaid/internal/app/domain/exchange"
	"github.com/R3E-Network/mutualaid/internal/app/domain/post"
	"github.com/R3E-Network/mutualaid/internal/app/services/profiles"
	"github.com/R3E-Network/mutualaid/internal/app/services/trust"
	"github.com/R3E-Network/mutualaid/internal/app/storage"
	"github.com/R3E-Network/mutualaid/internal/errors"
	"github.com/R3E-Network/mutualaid/internal/gateway/memory"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

type fixture struct {
	svc   *Service
	store *storage.Store
	cache cache.Cache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := storage.New(memory.New())
	log := logging.NewDiscard()
	c := cache.NewMemory()
	svc := New(store, store, store, trust.New(store, log), c, log)
	return fixture{svc: svc, store: store, cache: c}
}

func (f fixture) profile(t *testing.T, id, name string) {
	t.Helper()
	_, err := f.store.UpsertProfile(context.Background(), map[string]any{"id": id, "username": name, "trust_level": 0})
	require.NoError(t, err)
}

func (f fixture) post(t *testing.T, owner string, typ post.Type, urg post.Urgency) post.Post {
	t.Helper()
	p, err := f.store.CreatePost(context.Background(), post.Draft{
		UserID: owner, Type: typ, Category: post.CategoryTool, Title: "Need a drill",
		Location: "Elm St", Urgency: urg, Status: post.StatusActive,
	})
	require.NoError(t, err)
	return p
}

func (f fixture) trust(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.GetProfile(context.Background(), id)
	require.NoError(t, err)
	return p.TrustLevel
}

func codeOf(err error) errors.Code {
	if se := errors.GetServiceError(err); se != nil {
		return se.Code
	}
	return ""
}

func TestNeedScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.profile(t, "A", "alice")
	f.profile(t, "B", "bob")
	p := f.post(t, "A", post.TypeNeed, post.UrgencyMedium)

	ex, err := f.svc.Contact(ctx, "B", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", ex.HelperID)
	assert.Equal(t, "A", ex.RequesterID)
	assert.Equal(t, exchange.StatusPending, ex.Status)

	// B is the helper on a need; only the owner provides acceptance
	_, err = f.svc.Transition(ctx, "B", ex.ID, exchange.StatusAccepted)
	assert.Equal(t, errors.CodeForbidden, codeOf(err))

	ex, err = f.svc.Transition(ctx, "A", ex.ID, exchange.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusAccepted, ex.Status)

	ex, err = f.svc.Transition(ctx, "B", ex.ID, exchange.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusCompleted, ex.Status)
	assert.Equal(t, 1, f.trust(t, "A"))
	assert.Equal(t, 1, f.trust(t, "B"))

	for _, target := range exchange.Statuses {
		for _, actor := range []string{"A", "B"} {
			_, err := f.svc.Transition(ctx, actor, ex.ID, target)
			assert.Errorf(t, err, "%s -> %s by %s accepted on a completed exchange", ex.Status, target, actor)
		}
	}
	assert.Equal(t, 1, f.trust(t, "A"))
	assert.Equal(t, 1, f.trust(t, "B"))
}

func TestOfferContactRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.post(t, "owner", post.TypeOffer, post.UrgencyLow)

	ex, err := f.svc.Contact(ctx, "asker", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner", ex.HelperID)
	assert.Equal(t, "asker", ex.RequesterID)

	actions, err := f.svc.Actions(ctx, "owner", ex.ID)
	require.NoError(t, err)
	assert.Equal(t, []exchange.Status{exchange.StatusAccepted, exchange.StatusCancelled}, actions)

	actions, err = f.svc.Actions(ctx, "asker", ex.ID)
	require.NoError(t, err)
	assert.Equal(t, []exchange.Status{exchange.StatusCancelled}, actions)

	_, err = f.svc.Actions(ctx, "stranger", ex.ID)
	assert.Equal(t, errors.CodeForbidden, codeOf(err))
}

func TestContactRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.post(t, "owner", post.TypeOffer, post.UrgencyLow)

	_, err := f.svc.Contact(ctx, "owner", p.ID)
	assert.Equal(t, errors.CodeValidation, codeOf(err))

	_, err = f.svc.Contact(ctx, "asker", p.ID)
	require.NoError(t, err)
	_, err = f.svc.Contact(ctx, "asker", p.ID)
	assert.Equal(t, errors.CodeConflict, codeOf(err), "duplicate open exchange")

	_, err = f.svc.Contact(ctx, "asker", "missing")
	assert.Equal(t, errors.CodeNotFound, codeOf(err))

	_, err = f.store.ClosePost(ctx, p.ID, "owner")
	require.NoError(t, err)
	_, err = f.svc.Contact(ctx, "other", p.ID)
	assert.Equal(t, errors.CodeConflict, codeOf(err))
}

func TestRecontactAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.post(t, "owner", post.TypeOffer, post.UrgencyLow)

	ex, err := f.svc.Contact(ctx, "asker", p.ID)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, "asker", ex.ID, exchange.StatusCancelled)
	require.NoError(t, err)
	_, err = f.svc.Contact(ctx, "asker", p.ID)
	assert.NoError(t, err)
}

func TestRespondToEmergency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.post(t, "victim", post.TypeNeed, post.UrgencyEmergency)

	ex, err := f.svc.RespondToEmergency(ctx, "rescuer", p.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusAccepted, ex.Status)
	assert.Equal(t, "rescuer", ex.HelperID)
	assert.Equal(t, "victim", ex.RequesterID)

	calm := f.post(t, "victim", post.TypeNeed, post.UrgencyHigh)
	_, err = f.svc.RespondToEmergency(ctx, "rescuer", calm.ID)
	assert.Equal(t, errors.CodeValidation, codeOf(err))
}

func TestConcurrentCompletionIncrementsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.profile(t, "h", "helper")
	f.profile(t, "r", "requester")
	p := f.post(t, "h", post.TypeOffer, post.UrgencyLow)
	ex, err := f.svc.Contact(ctx, "r", p.ID)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, "h", ex.ID, exchange.StatusAccepted)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, actor := range []string{"h", "r", "h", "r"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			if _, err := f.svc.Transition(ctx, actor, ex.ID, exchange.StatusCompleted); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(actor)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.trust(t, "h"))
	assert.Equal(t, 1, f.trust(t, "r"))
}

func TestListEnrichesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.profile(t, "A", "alice")
	f.profile(t, "B", "bob")
	p := f.post(t, "A", post.TypeNeed, post.UrgencyMedium)
	ex, err := f.svc.Contact(ctx, "B", p.ID)
	require.NoError(t, err)

	list, err := f.svc.List(ctx, "A", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].HelperUsername)
	assert.Equal(t, "alice", list[0].RequesterUsername)
	require.NotNil(t, list[0].Post)
	assert.Equal(t, "Need a drill", list[0].Post.Title)
	assert.Equal(t, exchange.RoleProvider, list[0].Role)

	counts, err := f.svc.Counts(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, exchange.Counts{All: 1, Pending: 1}, counts)

	_, err = f.svc.Transition(ctx, "A", ex.ID, exchange.StatusAccepted)
	require.NoError(t, err)

	pending, err := f.svc.List(ctx, "B", exchange.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	counts, err = f.svc.Counts(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, exchange.Counts{All: 1, Accepted: 1}, counts)

	_, err = f.svc.List(ctx, "A", "archived")
	assert.Equal(t, errors.CodeValidation, codeOf(err))
}

func TestCompletionCreditsParticipantsWithoutProfiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.post(t, "A", post.TypeNeed, post.UrgencyLow)

	ex, err := f.svc.Contact(ctx, "B", p.ID)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, "A", ex.ID, exchange.StatusAccepted)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, "B", ex.ID, exchange.StatusCompleted)
	require.NoError(t, err)

	assert.Equal(t, 1, f.trust(t, "A"))
	assert.Equal(t, 1, f.trust(t, "B"))
}

func TestCompletionRefreshesCachedProfiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.profile(t, "A", "alice")
	f.profile(t, "B", "bob")
	profileSvc := profiles.New(f.store, f.cache, logging.NewDiscard())

	for _, id := range []string{"A", "B"} {
		before, err := profileSvc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 0, before.TrustLevel)
	}

	p := f.post(t, "A", post.TypeNeed, post.UrgencyLow)
	ex, err := f.svc.Contact(ctx, "B", p.ID)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, "A", ex.ID, exchange.StatusAccepted)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, "B", ex.ID, exchange.StatusCompleted)
	require.NoError(t, err)

	for _, id := range []string{"A", "B"} {
		after, err := profileSvc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, after.TrustLevel, "cached profile of %s", id)
	}
}
