package entity

import "time"

// ThreadState describes where a conversation sits in its lifecycle. The two
// remaining states, NonExistent and Deleted, have no record to hang a state
// on: both are observed as "no thread document".
type ThreadState string

const (
	ThreadStateActive      ThreadState = "active"
	ThreadStateHiddenByOne ThreadState = "hidden_by_one"
)

// LastMessage is the denormalized cache of the most recent message, kept on
// the thread document for list-view rendering.
type LastMessage struct {
	Text     string    `json:"text" firestore:"text"`
	SenderID string    `json:"sender_id" firestore:"senderId"`
	SentAt   time.Time `json:"sent_at" firestore:"sentAt"`
}

// Thread is a two-participant conversation about one listing. Exactly one
// thread exists per (unordered participant pair, listing).
type Thread struct {
	ID           string         `json:"id" firestore:"id"`
	Participants []string       `json:"participants" firestore:"participants"`
	ListingID    string         `json:"listing_id" firestore:"listingId"`
	LastMessage  LastMessage    `json:"last_message" firestore:"lastMessage"`
	UnreadCount  map[string]int `json:"unread_count" firestore:"unreadCount"`
	HiddenBy     []string       `json:"-" firestore:"hiddenBy"`
	CreatedAt    time.Time      `json:"created_at" firestore:"createdAt"`
	UpdatedAt    time.Time      `json:"updated_at" firestore:"updatedAt"`
}

func (t *Thread) HasParticipant(userID string) bool {
	for _, p := range t.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID, or "" when
// userID is not a participant.
func (t *Thread) OtherParticipant(userID string) string {
	for _, p := range t.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (t *Thread) HiddenFor(userID string) bool {
	for _, h := range t.HiddenBy {
		if h == userID {
			return true
		}
	}
	return false
}

func (t *Thread) State() ThreadState {
	if len(t.HiddenBy) > 0 {
		return ThreadStateHiddenByOne
	}
	return ThreadStateActive
}

func (t *Thread) UnreadFor(userID string) int {
	if t.UnreadCount == nil {
		return 0
	}
	return t.UnreadCount[userID]
}
