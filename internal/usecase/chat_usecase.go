package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"rentline/internal/domain/entity"
	"rentline/internal/domain/repository"
	"rentline/internal/infrastructure/ratelimit"
	ws "rentline/internal/infrastructure/websocket"
	"rentline/pkg/errors"
	"rentline/pkg/logger"
)

// Fanout is the realtime delivery collaborator. Emission is best-effort:
// implementations never report failure back and must never block.
type Fanout interface {
	EmitToThread(threadID, event string, payload interface{})
	EmitToUser(userID, event string, payload interface{})
}

// ChatUseCase orchestrates thread lookup/creation, message posting,
// read-acknowledgment and two-sided deletion.
//
// Conversation lifecycle: NonExistent -> Active (first message posted) ->
// HiddenByOne (one participant deleted) -> Deleted (the other participant
// deleted too; thread and messages purged). There is no un-hide: new
// messages into a HiddenByOne thread do not resurface it for the hider.
type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	userRepo    repository.UserRepository
	listingRepo repository.ListingRepository
	fanout      Fanout
	rateLimiter *ratelimit.RateLimiter
}

func NewChatUseCase(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	listingRepo repository.ListingRepository,
	fanout Fanout,
) *ChatUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ChatUseCase{
		chatRepo:    chatRepo,
		userRepo:    userRepo,
		listingRepo: listingRepo,
		fanout:      fanout,
		rateLimiter: rateLimiter,
	}
}

type PostMessageInput struct {
	Text        string
	RecipientID string
	ThreadID    string
	ListingID   string
}

// ThreadSummary is the display-ready projection for thread list views.
type ThreadSummary struct {
	*entity.Thread
	OtherUser    *entity.User `json:"other_user,omitempty"`
	ListingTitle string       `json:"listing_title"`
}

// MessageView is a message with its sender's display identity attached.
type MessageView struct {
	*entity.Message
	Sender *entity.User `json:"sender,omitempty"`
}

const listingTitleFallback = "Listing unavailable"

func validThreadID(id string) bool {
	return id != "" && !strings.ContainsRune(id, '/')
}

// ListThreads returns the principal's visible threads, most recently active
// first. Threads the principal has hidden are excluded.
func (uc *ChatUseCase) ListThreads(ctx context.Context, userID string) ([]*ThreadSummary, error) {
	if _, err := uc.userRepo.GetByID(ctx, userID); err != nil {
		return nil, errors.NotFound("User", err)
	}

	threads, err := uc.chatRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]*ThreadSummary, 0, len(threads))
	for _, thread := range threads {
		summary := &ThreadSummary{
			Thread:       thread,
			ListingTitle: listingTitleFallback,
		}

		otherID := thread.OtherParticipant(userID)
		if otherUser, err := uc.userRepo.GetByID(ctx, otherID); err == nil {
			summary.OtherUser = otherUser
		} else {
			logger.Warn("Other participant %s not found for thread %s: %v", otherID, thread.ID, err)
		}

		// Listing metadata is display-only; a missing listing degrades to
		// the fallback title, it never fails the request.
		if listing, err := uc.listingRepo.GetByID(ctx, thread.ListingID); err == nil {
			summary.ListingTitle = listing.Title
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// GetThreadMessages returns the thread's messages oldest first. As a side
// effect the caller's unread counter is reset and a read receipt is emitted
// to the thread room.
func (uc *ChatUseCase) GetThreadMessages(ctx context.Context, userID, threadID string) ([]*MessageView, error) {
	if !validThreadID(threadID) {
		return nil, errors.BadRequest("Invalid thread id", nil)
	}

	thread, err := uc.chatRepo.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(userID) {
		return nil, errors.Forbidden("User is not a participant in this thread", nil)
	}

	messages, err := uc.chatRepo.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if err := uc.chatRepo.ResetUnread(ctx, threadID, userID); err != nil {
		return nil, err
	}
	uc.fanout.EmitToThread(threadID, ws.EventMessagesRead, map[string]string{"reader_id": userID})

	senders := make(map[string]*entity.User)
	views := make([]*MessageView, 0, len(messages))
	for _, message := range messages {
		view := &MessageView{Message: message}
		sender, ok := senders[message.SenderID]
		if !ok {
			sender, err = uc.userRepo.GetByID(ctx, message.SenderID)
			if err != nil {
				logger.Warn("Sender %s not found for message %s: %v", message.SenderID, message.ID, err)
				sender = nil
			}
			senders[message.SenderID] = sender
		}
		view.Sender = sender
		views = append(views, view)
	}

	return views, nil
}

// PostMessage appends a message to the conversation between the sender and
// the recipient about one listing, creating the thread on first contact.
// The recipient's unread counter is bumped atomically with the append.
func (uc *ChatUseCase) PostMessage(ctx context.Context, senderID string, input PostMessageInput) (*MessageView, error) {
	if allowed, wait := uc.rateLimiter.Allow(senderID, "post_message"); !allowed {
		logger.Warn("PostMessage rate limited: user %s must wait %v", senderID, wait)
		return nil, errors.TooManyRequests("Too many messages, slow down")
	}

	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, errors.BadRequest("Message text is required", nil)
	}
	if input.RecipientID == "" {
		return nil, errors.BadRequest("Recipient is required", nil)
	}
	if input.RecipientID == senderID {
		return nil, errors.BadRequest("You cannot message yourself", nil)
	}

	sender, err := uc.userRepo.GetByID(ctx, senderID)
	if err != nil {
		return nil, errors.NotFound("Sender", err)
	}
	if _, err := uc.userRepo.GetByID(ctx, input.RecipientID); err != nil {
		return nil, errors.NotFound("Recipient", err)
	}

	thread, err := uc.resolveThread(ctx, senderID, input)
	if err != nil {
		return nil, err
	}

	message := &entity.Message{
		ID:        uuid.New().String(),
		ThreadID:  thread.ID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: time.Now(),
	}

	recipientID := thread.OtherParticipant(senderID)
	if err := uc.chatRepo.AppendMessage(ctx, thread.ID, message, recipientID); err != nil {
		return nil, err
	}

	view := &MessageView{Message: message, Sender: sender}

	uc.fanout.EmitToThread(thread.ID, ws.EventMessage, view)
	for _, participantID := range thread.Participants {
		uc.fanout.EmitToUser(participantID, ws.EventChatActivity, map[string]string{"chat_id": thread.ID})
	}

	return view, nil
}

// resolveThread loads the target thread by id, by (pair, listing) lookup, or
// creates it. A brand-new conversation requires a listing context. Losing a
// concurrent creation race coalesces onto the winner's thread.
func (uc *ChatUseCase) resolveThread(ctx context.Context, senderID string, input PostMessageInput) (*entity.Thread, error) {
	if input.ThreadID != "" {
		if !validThreadID(input.ThreadID) {
			return nil, errors.BadRequest("Invalid thread id", nil)
		}
		thread, err := uc.chatRepo.GetByID(ctx, input.ThreadID)
		if err != nil {
			return nil, err
		}
		if !thread.HasParticipant(senderID) {
			return nil, errors.Forbidden("User is not a participant in this thread", nil)
		}
		if input.RecipientID != thread.OtherParticipant(senderID) {
			return nil, errors.BadRequest("Recipient is not a participant in this chat", nil)
		}
		return thread, nil
	}

	if input.ListingID != "" {
		thread, err := uc.chatRepo.GetByParticipantsAndListing(ctx, senderID, input.RecipientID, input.ListingID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}
	}

	if input.ListingID == "" {
		return nil, errors.MissingListing("A listing is required to start a new chat", nil)
	}

	thread := &entity.Thread{
		Participants: []string{senderID, input.RecipientID},
		ListingID:    input.ListingID,
	}
	err := uc.chatRepo.Create(ctx, thread)
	if err == nil {
		return thread, nil
	}
	if errors.Is(err, "CONFLICT") {
		logger.Info("Lost thread creation race for listing %s, adopting existing thread", input.ListingID)
		return uc.chatRepo.GetByParticipantsAndListing(ctx, senderID, input.RecipientID, input.ListingID)
	}
	return nil, err
}

// DeleteThread hides the thread for the caller, or purges it entirely when
// the other participant had already hidden it. Hiding twice is a no-op.
func (uc *ChatUseCase) DeleteThread(ctx context.Context, userID, threadID string) error {
	if !validThreadID(threadID) {
		return errors.BadRequest("Invalid thread id", nil)
	}

	thread, err := uc.chatRepo.GetByID(ctx, threadID)
	if err != nil {
		return err
	}
	// Non-participants learn nothing, not even that the thread exists.
	if !thread.HasParticipant(userID) {
		return errors.NotFound("Thread", nil)
	}

	// The hide-vs-purge decision lives in the repository so it is atomic
	// with the read; deciding on the snapshot loaded above would let two
	// concurrent deletes both pick "hide" and strand the thread.
	purged, err := uc.chatRepo.HideOrDelete(ctx, threadID, userID)
	if err != nil {
		return err
	}
	if purged {
		logger.Info("Thread %s abandoned by both participants, purged", threadID)
	}
	return nil
}

// IsParticipant implements the fan-out's room-join guard.
func (uc *ChatUseCase) IsParticipant(ctx context.Context, threadID, userID string) (bool, error) {
	thread, err := uc.chatRepo.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, "NOT_FOUND") {
			return false, nil
		}
		return false, err
	}
	return thread.HasParticipant(userID), nil
}
