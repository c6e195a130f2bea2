package repository

import (
	"context"

	"rentline/internal/domain/entity"
)

// ChatRepository owns thread and message persistence. Implementations must
// enforce uniqueness of (unordered participant pair, listing) at the storage
// layer: Create fails with a CONFLICT error when the pair+listing already has
// a thread, so concurrent first-message races cannot produce duplicates.
type ChatRepository interface {
	Create(ctx context.Context, thread *entity.Thread) error
	GetByID(ctx context.Context, id string) (*entity.Thread, error)
	GetByParticipantsAndListing(ctx context.Context, userA, userB, listingID string) (*entity.Thread, error)
	// ListByUserID returns threads the user participates in and has not
	// hidden, most recently active first.
	ListByUserID(ctx context.Context, userID string) ([]*entity.Thread, error)
	// AppendMessage stores the message and applies the thread side effects
	// (lastMessage cache, updatedAt, recipient unread increment) as one
	// atomic step. On failure nothing is visible.
	AppendMessage(ctx context.Context, threadID string, message *entity.Message, recipientID string) error
	ListMessages(ctx context.Context, threadID string) ([]*entity.Message, error)
	ResetUnread(ctx context.Context, threadID, userID string) error
	// HideOrDelete hides the thread for userID, or permanently removes the
	// thread and every message in it when the other participant has already
	// hidden it. The read and the decision are atomic: concurrent deletes by
	// both participants must converge on a purge, never on a thread hidden
	// by both. Reports whether the thread was purged.
	HideOrDelete(ctx context.Context, threadID, userID string) (bool, error)
}
