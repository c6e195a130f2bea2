package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rentline/internal/domain/entity"
	"rentline/internal/domain/repository"
	"rentline/pkg/errors"
	"rentline/pkg/logger"
)

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

// threadDocID derives the thread document ID from the unordered participant
// pair and the listing. Using the key as the document ID makes Firestore
// itself the uniqueness constraint: two concurrent creates for the same
// pair+listing target the same document and the second Create fails with
// AlreadyExists instead of producing a duplicate thread.
func threadDocID(userA, userB, listingID string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	sum := sha256.Sum256([]byte(userA + "|" + userB + "|" + listingID))
	return hex.EncodeToString(sum[:])[:32]
}

func (r *firestoreChatRepository) Create(ctx context.Context, thread *entity.Thread) error {
	if len(thread.Participants) != 2 || thread.Participants[0] == thread.Participants[1] {
		return errors.BadRequest("A thread requires exactly two distinct participants", nil)
	}
	if thread.ListingID == "" {
		return errors.MissingListing("A thread cannot be created without a listing", nil)
	}

	thread.ID = threadDocID(thread.Participants[0], thread.Participants[1], thread.ListingID)

	now := time.Now()
	thread.CreatedAt = now
	thread.UpdatedAt = now
	if thread.UnreadCount == nil {
		thread.UnreadCount = map[string]int{
			thread.Participants[0]: 0,
			thread.Participants[1]: 0,
		}
	}
	if thread.HiddenBy == nil {
		thread.HiddenBy = []string{}
	}

	_, err := r.client.Collection("threads").Doc(thread.ID).Create(ctx, thread)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Thread already exists for this pair and listing", err)
		}
		return errors.Internal("Failed to create thread", err)
	}

	return nil
}

func (r *firestoreChatRepository) GetByID(ctx context.Context, id string) (*entity.Thread, error) {
	doc, err := r.client.Collection("threads").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Thread", err)
		}
		return nil, errors.Internal("Failed to get thread", err)
	}

	var thread entity.Thread
	if err := doc.DataTo(&thread); err != nil {
		return nil, errors.Internal("Failed to parse thread data", err)
	}

	return &thread, nil
}

func (r *firestoreChatRepository) GetByParticipantsAndListing(ctx context.Context, userA, userB, listingID string) (*entity.Thread, error) {
	return r.GetByID(ctx, threadDocID(userA, userB, listingID))
}

func (r *firestoreChatRepository) ListByUserID(ctx context.Context, userID string) ([]*entity.Thread, error) {
	query := r.client.Collection("threads").
		Where("participants", "array-contains", userID).
		OrderBy("updatedAt", firestore.Desc)

	iter := query.Documents(ctx)
	var threads []*entity.Thread

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while listing threads for user %s: %v", userID, err)
			return nil, errors.Internal("Failed to list threads", err)
		}

		var thread entity.Thread
		if err := doc.DataTo(&thread); err != nil {
			logger.Warn("Skipping malformed thread document %s: %v", doc.Ref.ID, err)
			continue
		}
		// Firestore has no array-not-contains; hidden threads are filtered here.
		if thread.HiddenFor(userID) {
			continue
		}
		threads = append(threads, &thread)
	}

	return threads, nil
}

func (r *firestoreChatRepository) AppendMessage(ctx context.Context, threadID string, message *entity.Message, recipientID string) error {
	threadRef := r.client.Collection("threads").Doc(threadID)
	messageRef := threadRef.Collection("messages").Doc(message.ID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(messageRef, message); err != nil {
			return err
		}
		return tx.Update(threadRef, []firestore.Update{
			{Path: "lastMessage", Value: entity.LastMessage{
				Text:     message.Text,
				SenderID: message.SenderID,
				SentAt:   message.CreatedAt,
			}},
			{Path: "updatedAt", Value: message.CreatedAt},
			{FieldPath: firestore.FieldPath{"unreadCount", recipientID}, Value: firestore.Increment(1)},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Thread", err)
		}
		return errors.Internal("Failed to append message", err)
	}

	return nil
}

func (r *firestoreChatRepository) ListMessages(ctx context.Context, threadID string) ([]*entity.Message, error) {
	query := r.client.Collection("threads").Doc(threadID).Collection("messages").
		OrderBy("createdAt", firestore.Asc)

	iter := query.Documents(ctx)
	var messages []*entity.Message

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while listing messages for thread %s: %v", threadID, err)
			return nil, errors.Internal("Failed to list messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			logger.Warn("Skipping malformed message document %s: %v", doc.Ref.ID, err)
			continue
		}
		messages = append(messages, &message)
	}

	return messages, nil
}

func (r *firestoreChatRepository) ResetUnread(ctx context.Context, threadID, userID string) error {
	_, err := r.client.Collection("threads").Doc(threadID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"unreadCount", userID}, Value: 0},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Thread", err)
		}
		return errors.Internal("Failed to reset unread counter", err)
	}

	return nil
}

// HideOrDelete reads the thread and applies the matching deletion step inside
// one transaction. Concurrent deletes by both participants serialize on the
// thread document: whichever transaction commits second sees the other's hide
// and purges, so the thread can never end up hidden by both and stranded.
func (r *firestoreChatRepository) HideOrDelete(ctx context.Context, threadID, userID string) (bool, error) {
	threadRef := r.client.Collection("threads").Doc(threadID)

	purged := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		purged = false

		doc, err := tx.Get(threadRef)
		if err != nil {
			return err
		}
		var thread entity.Thread
		if err := doc.DataTo(&thread); err != nil {
			return err
		}

		if thread.HiddenFor(thread.OtherParticipant(userID)) {
			purged = true
			return tx.Delete(threadRef)
		}
		return tx.Update(threadRef, []firestore.Update{
			{Path: "hiddenBy", Value: firestore.ArrayUnion(userID)},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, errors.NotFound("Thread", err)
		}
		return false, errors.Internal("Failed to hide thread", err)
	}

	if purged {
		if err := r.purgeMessages(ctx, threadID); err != nil {
			return true, err
		}
	}
	return purged, nil
}

// purgeMessages removes the messages subcollection; subcollections are not
// removed by deleting the parent document.
func (r *firestoreChatRepository) purgeMessages(ctx context.Context, threadID string) error {
	bw := r.client.BulkWriter(ctx)
	iter := r.client.Collection("threads").Doc(threadID).Collection("messages").Select().Documents(ctx)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return errors.Internal("Failed to enumerate messages for deletion", err)
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			return errors.Internal("Failed to schedule message deletion", err)
		}
	}
	bw.End()

	return nil
}
