package usecase

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentline/internal/domain/entity"
	"rentline/internal/domain/repository"
	ws "rentline/internal/infrastructure/websocket"
	"rentline/pkg/errors"
)

func pairKey(a, b, listingID string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b + "|" + listingID
}

// fakeChatRepo serializes every operation on one mutex, mirroring the real
// repository's transactional contract: reads and their dependent writes are
// atomic with respect to each other.
type fakeChatRepo struct {
	mu       sync.Mutex
	threads  map[string]*entity.Thread
	messages map[string][]*entity.Message
	missOnce map[string]bool
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		threads:  make(map[string]*entity.Thread),
		messages: make(map[string][]*entity.Message),
		missOnce: make(map[string]bool),
	}
}

func (r *fakeChatRepo) Create(ctx context.Context, thread *entity.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(thread.Participants[0], thread.Participants[1], thread.ListingID)
	if _, exists := r.threads[key]; exists {
		return errors.Conflict("Thread already exists", nil)
	}
	now := time.Now()
	thread.ID = key
	thread.CreatedAt = now
	thread.UpdatedAt = now
	thread.UnreadCount = map[string]int{
		thread.Participants[0]: 0,
		thread.Participants[1]: 0,
	}
	r.threads[key] = thread
	return nil
}

func (r *fakeChatRepo) getLocked(id string) (*entity.Thread, error) {
	thread, ok := r.threads[id]
	if !ok {
		return nil, errors.NotFound("Thread", nil)
	}
	return thread, nil
}

func (r *fakeChatRepo) GetByID(ctx context.Context, id string) (*entity.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *fakeChatRepo) GetByParticipantsAndListing(ctx context.Context, userA, userB, listingID string) (*entity.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(userA, userB, listingID)
	if r.missOnce[key] {
		delete(r.missOnce, key)
		return nil, errors.NotFound("Thread", nil)
	}
	return r.getLocked(key)
}

func (r *fakeChatRepo) ListByUserID(ctx context.Context, userID string) ([]*entity.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.Thread
	for _, thread := range r.threads {
		if thread.HasParticipant(userID) && !thread.HiddenFor(userID) {
			out = append(out, thread)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *fakeChatRepo) AppendMessage(ctx context.Context, threadID string, message *entity.Message, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return errors.NotFound("Thread", nil)
	}
	r.messages[threadID] = append(r.messages[threadID], message)
	thread.LastMessage = entity.LastMessage{
		Text:     message.Text,
		SenderID: message.SenderID,
		SentAt:   message.CreatedAt,
	}
	thread.UpdatedAt = message.CreatedAt
	if thread.UnreadCount == nil {
		thread.UnreadCount = make(map[string]int)
	}
	thread.UnreadCount[recipientID]++
	return nil
}

func (r *fakeChatRepo) ListMessages(ctx context.Context, threadID string) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[threadID], nil
}

func (r *fakeChatRepo) ResetUnread(ctx context.Context, threadID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return errors.NotFound("Thread", nil)
	}
	if thread.UnreadCount != nil {
		thread.UnreadCount[userID] = 0
	}
	return nil
}

func (r *fakeChatRepo) HideOrDelete(ctx context.Context, threadID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return false, errors.NotFound("Thread", nil)
	}
	if thread.HiddenFor(thread.OtherParticipant(userID)) {
		delete(r.threads, threadID)
		delete(r.messages, threadID)
		return true, nil
	}
	if !thread.HiddenFor(userID) {
		thread.HiddenBy = append(thread.HiddenBy, userID)
	}
	return false, nil
}

type fakeUserRepo struct {
	users map[string]*entity.User
}

func (r *fakeUserRepo) Create(ctx context.Context, user *entity.User) error {
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, errors.NotFound("User", nil)
}

func (r *fakeUserRepo) Update(ctx context.Context, user *entity.User) error {
	r.users[user.ID] = user
	return nil
}

type fakeListingRepo struct {
	listings map[string]*entity.Listing
}

func (r *fakeListingRepo) Create(ctx context.Context, listing *entity.Listing) error {
	r.listings[listing.ID] = listing
	return nil
}

func (r *fakeListingRepo) GetByID(ctx context.Context, id string) (*entity.Listing, error) {
	listing, ok := r.listings[id]
	if !ok {
		return nil, errors.NotFound("Listing", nil)
	}
	return listing, nil
}

func (r *fakeListingRepo) List(ctx context.Context, filter repository.ListingFilter, limit, offset int) ([]*entity.Listing, int64, error) {
	var out []*entity.Listing
	for _, listing := range r.listings {
		out = append(out, listing)
	}
	return out, int64(len(out)), nil
}

func (r *fakeListingRepo) Update(ctx context.Context, listing *entity.Listing) error {
	r.listings[listing.ID] = listing
	return nil
}

type emitted struct {
	Target  string
	ID      string
	Event   string
	Payload interface{}
}

type fakeFanout struct {
	events []emitted
}

func (f *fakeFanout) EmitToThread(threadID, event string, payload interface{}) {
	f.events = append(f.events, emitted{Target: "thread", ID: threadID, Event: event, Payload: payload})
}

func (f *fakeFanout) EmitToUser(userID, event string, payload interface{}) {
	f.events = append(f.events, emitted{Target: "user", ID: userID, Event: event, Payload: payload})
}

func (f *fakeFanout) byEvent(event string) []emitted {
	var out []emitted
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func newChatFixture() (*ChatUseCase, *fakeChatRepo, *fakeFanout) {
	chatRepo := newFakeChatRepo()
	userRepo := &fakeUserRepo{users: map[string]*entity.User{
		"alice": {ID: "alice", Email: "alice@example.com", DisplayName: "Alice"},
		"bob":   {ID: "bob", Email: "bob@example.com", DisplayName: "Bob"},
		"carol": {ID: "carol", Email: "carol@example.com", DisplayName: "Carol"},
	}}
	listingRepo := &fakeListingRepo{listings: map[string]*entity.Listing{
		"lst1": {ID: "lst1", OwnerID: "bob", Title: "Sunny loft downtown", Status: "active"},
	}}
	fanout := &fakeFanout{}
	uc := NewChatUseCase(chatRepo, userRepo, listingRepo, fanout)
	return uc, chatRepo, fanout
}

func TestPostMessageCreatesThreadOnFirstContact(t *testing.T) {
	uc, chatRepo, fanout := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "Is the loft still available?",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "alice", view.SenderID)
	assert.Equal(t, "Alice", view.Sender.DisplayName)

	thread, err := chatRepo.GetByID(ctx, view.ThreadID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, thread.Participants)
	assert.Equal(t, "lst1", thread.ListingID)
	assert.Equal(t, 1, thread.UnreadFor("bob"))
	assert.Equal(t, 0, thread.UnreadFor("alice"))
	assert.Equal(t, "Is the loft still available?", thread.LastMessage.Text)
	assert.Equal(t, entity.ThreadStateActive, thread.State())

	msgEvents := fanout.byEvent(ws.EventMessage)
	require.Len(t, msgEvents, 1)
	assert.Equal(t, "thread", msgEvents[0].Target)
	assert.Equal(t, thread.ID, msgEvents[0].ID)

	activity := fanout.byEvent(ws.EventChatActivity)
	require.Len(t, activity, 2)
	var targets []string
	for _, e := range activity {
		targets = append(targets, e.ID)
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, targets)
}

func TestPostMessageRequiresListingForNewThread(t *testing.T) {
	uc, _, _ := newChatFixture()

	_, err := uc.PostMessage(context.Background(), "alice", PostMessageInput{
		Text:        "hello",
		RecipientID: "bob",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "MISSING_LISTING"))
	assert.Equal(t, 400, errors.StatusOf(err))
}

func TestPostMessageRejectsBlankText(t *testing.T) {
	uc, _, _ := newChatFixture()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := uc.PostMessage(context.Background(), "alice", PostMessageInput{
			Text:        text,
			RecipientID: "bob",
			ListingID:   "lst1",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, "BAD_REQUEST"))
	}
}

func TestPostMessageRejectsSelfChat(t *testing.T) {
	uc, _, _ := newChatFixture()

	_, err := uc.PostMessage(context.Background(), "alice", PostMessageInput{
		Text:        "hi me",
		RecipientID: "alice",
		ListingID:   "lst1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestPostMessageUnknownRecipient(t *testing.T) {
	uc, _, _ := newChatFixture()

	_, err := uc.PostMessage(context.Background(), "alice", PostMessageInput{
		Text:        "hello?",
		RecipientID: "nobody",
		ListingID:   "lst1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "NOT_FOUND"))
}

func TestPostMessageReusesExistingThread(t *testing.T) {
	uc, chatRepo, _ := newChatFixture()
	ctx := context.Background()

	first, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "first",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	// Same pair, opposite direction, same listing lands in the same thread.
	second, err := uc.PostMessage(ctx, "bob", PostMessageInput{
		Text:        "second",
		RecipientID: "alice",
		ListingID:   "lst1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, second.ThreadID)

	thread, err := chatRepo.GetByID(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 1, thread.UnreadFor("alice"))
	assert.Equal(t, 1, thread.UnreadFor("bob"))
	assert.Equal(t, "second", thread.LastMessage.Text)
	assert.Len(t, chatRepo.messages[thread.ID], 2)
}

func TestPostMessageCoalescesCreationRace(t *testing.T) {
	uc, chatRepo, _ := newChatFixture()
	ctx := context.Background()

	existing, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "won the race",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	// Simulate the loser's stale lookup: the pre-create check misses, the
	// create hits the uniqueness conflict, the refetch adopts the winner.
	chatRepo.missOnce[pairKey("alice", "bob", "lst1")] = true

	view, err := uc.PostMessage(ctx, "bob", PostMessageInput{
		Text:        "lost the race",
		RecipientID: "alice",
		ListingID:   "lst1",
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ThreadID, view.ThreadID)
	assert.Len(t, chatRepo.threads, 1)
}

func TestPostMessageByThreadIDForbiddenForNonParticipant(t *testing.T) {
	uc, _, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "private",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	_, err = uc.PostMessage(ctx, "carol", PostMessageInput{
		Text:        "intruding",
		RecipientID: "alice",
		ThreadID:    view.ThreadID,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
}

func TestPostMessageByThreadIDRejectsMismatchedRecipient(t *testing.T) {
	uc, _, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "for bob",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	// Addressing an existing thread with a recipient who is not in it must
	// fail instead of silently delivering to the actual participant.
	_, err = uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "for carol?",
		RecipientID: "carol",
		ThreadID:    view.ThreadID,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestGetThreadMessagesResetsUnreadAndEmitsReadReceipt(t *testing.T) {
	uc, chatRepo, fanout := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "ping",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	messages, err := uc.GetThreadMessages(ctx, "bob", view.ThreadID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "ping", messages[0].Text)
	assert.Equal(t, "Alice", messages[0].Sender.DisplayName)

	thread, err := chatRepo.GetByID(ctx, view.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 0, thread.UnreadFor("bob"))

	receipts := fanout.byEvent(ws.EventMessagesRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, view.ThreadID, receipts[0].ID)
	assert.Equal(t, map[string]string{"reader_id": "bob"}, receipts[0].Payload)
}

func TestGetThreadMessagesForbiddenForNonParticipant(t *testing.T) {
	uc, _, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "secret",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	_, err = uc.GetThreadMessages(ctx, "carol", view.ThreadID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
}

func TestGetThreadMessagesRejectsMalformedID(t *testing.T) {
	uc, _, _ := newChatFixture()

	for _, id := range []string{"", "a/b"} {
		_, err := uc.GetThreadMessages(context.Background(), "alice", id)
		require.Error(t, err)
		assert.True(t, errors.Is(err, "BAD_REQUEST"))
	}
}

func TestDeleteThreadHidesThenPurges(t *testing.T) {
	uc, chatRepo, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "short lived",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)
	threadID := view.ThreadID

	// First delete hides the thread for alice only.
	require.NoError(t, uc.DeleteThread(ctx, "alice", threadID))

	thread, err := chatRepo.GetByID(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, entity.ThreadStateHiddenByOne, thread.State())

	aliceThreads, err := uc.ListThreads(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, aliceThreads)

	bobThreads, err := uc.ListThreads(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobThreads, 1)
	assert.Equal(t, "Sunny loft downtown", bobThreads[0].ListingTitle)

	// Second participant deleting purges thread and messages for good.
	require.NoError(t, uc.DeleteThread(ctx, "bob", threadID))

	_, err = chatRepo.GetByID(ctx, threadID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, "NOT_FOUND"))
	assert.Empty(t, chatRepo.messages[threadID])
}

func TestConcurrentMutualDeletePurges(t *testing.T) {
	uc, chatRepo, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "going, going",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)
	threadID := view.ThreadID

	// Both participants delete at the same time. The hide-vs-purge decision
	// is atomic in the repository, so whichever delete lands second must see
	// the first hide and purge; the thread can never survive hidden by both.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			errs[i] = uc.DeleteThread(ctx, user, threadID)
		}(i, user)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	_, err = chatRepo.GetByID(ctx, threadID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, "NOT_FOUND"))
	assert.Empty(t, chatRepo.messages[threadID])
}

func TestDeleteThreadHideIsIdempotent(t *testing.T) {
	uc, chatRepo, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "hide me",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	require.NoError(t, uc.DeleteThread(ctx, "alice", view.ThreadID))
	require.NoError(t, uc.DeleteThread(ctx, "alice", view.ThreadID))

	thread, err := chatRepo.GetByID(ctx, view.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, thread.HiddenBy)
}

func TestDeleteThreadNonParticipantSeesNotFound(t *testing.T) {
	uc, _, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "ours",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	err = uc.DeleteThread(ctx, "carol", view.ThreadID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, "NOT_FOUND"))
}

func TestPostingIntoHiddenThreadDoesNotUnhide(t *testing.T) {
	uc, chatRepo, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "before hide",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	require.NoError(t, uc.DeleteThread(ctx, "alice", view.ThreadID))

	_, err = uc.PostMessage(ctx, "bob", PostMessageInput{
		Text:        "still talking",
		RecipientID: "alice",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	thread, err := chatRepo.GetByID(ctx, view.ThreadID)
	require.NoError(t, err)
	assert.True(t, thread.HiddenFor("alice"))

	aliceThreads, err := uc.ListThreads(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, aliceThreads)
}

func TestListThreadsOrdersByRecentActivity(t *testing.T) {
	uc, _, _ := newChatFixture()
	ctx := context.Background()

	first, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "to bob",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	second, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "to carol",
		RecipientID: "carol",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	threads, err := uc.ListThreads(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, second.ThreadID, threads[0].Thread.ID)
	assert.Equal(t, first.ThreadID, threads[1].Thread.ID)
	assert.Equal(t, "Carol", threads[0].OtherUser.DisplayName)
	assert.Equal(t, "Bob", threads[1].OtherUser.DisplayName)
}

func TestListThreadsUnknownUser(t *testing.T) {
	uc, _, _ := newChatFixture()

	_, err := uc.ListThreads(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "NOT_FOUND"))
}

func TestIsParticipant(t *testing.T) {
	uc, _, _ := newChatFixture()
	ctx := context.Background()

	view, err := uc.PostMessage(ctx, "alice", PostMessageInput{
		Text:        "room guard",
		RecipientID: "bob",
		ListingID:   "lst1",
	})
	require.NoError(t, err)

	ok, err := uc.IsParticipant(ctx, view.ThreadID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = uc.IsParticipant(ctx, view.ThreadID, "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = uc.IsParticipant(ctx, "missing-thread", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}
