package entity

import "time"

// Message is immutable once stored and only ever removed together with its
// owning thread.
type Message struct {
	ID        string    `json:"id" firestore:"id"`
	ThreadID  string    `json:"thread_id" firestore:"threadId"`
	SenderID  string    `json:"sender_id" firestore:"senderId"`
	Text      string    `json:"text" firestore:"text"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}
