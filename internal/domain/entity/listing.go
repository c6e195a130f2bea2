package entity

import "time"

type ListingImage struct {
	ID           string `json:"id" firestore:"id"`
	URL          string `json:"url" firestore:"url"`
	DisplayOrder int    `json:"display_order" firestore:"displayOrder"`
}

type Listing struct {
	ID          string         `json:"id" firestore:"id"`
	OwnerID     string         `json:"owner_id" firestore:"ownerId"`
	Title       string         `json:"title" firestore:"title"`
	Description string         `json:"description" firestore:"description"`
	Price       float64        `json:"price" firestore:"price"`
	Currency    string         `json:"currency" firestore:"currency"`
	Location    string         `json:"location,omitempty" firestore:"location,omitempty"`
	Categories  []string       `json:"categories,omitempty" firestore:"categories,omitempty"`
	Images      []ListingImage `json:"images,omitempty" firestore:"images,omitempty"`
	Status      string         `json:"status" firestore:"status"` // "active", "archived"

	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}
