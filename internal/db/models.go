package db

import (
	"time"

	"github.com/google/uuid"
)

// Subscriber represents a newsletter subscriber. A subscriber is created once
// on first signup and only ever read afterwards.
type Subscriber struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	Phone             *string   `json:"phone,omitempty"`
	PhoneCountryCode  *string   `json:"phoneCountryCode,omitempty"`
	ContactPreference string    `json:"contactPreference"`
	ConsentWhatsapp   bool      `json:"consentWhatsapp"`
	ConsentEmail      bool      `json:"consentEmail"`
	SubscribedAt      time.Time `json:"subscribedAt"`
}

// DiscountCode represents a promotional code issued to a subscriber.
// Redemption fields are set at most once; expiry is fixed at creation.
type DiscountCode struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"`
	Type            string     `json:"type"`
	Value           string     `json:"value"`
	SubscriberID    uuid.UUID  `json:"subscriberId"`
	DeliveryChannel string     `json:"deliveryChannel"`
	DeliveryStatus  string     `json:"deliveryStatus"`
	DeliveredAt     *time.Time `json:"deliveredAt,omitempty"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	RedeemedAt      *time.Time `json:"redeemedAt,omitempty"`
	RedeemedOrderID *string    `json:"redeemedOrderId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// PendingDelivery is a discount code joined with the contact details needed
// to deliver it. Consumed by the delivery worker.
type PendingDelivery struct {
	CodeID           uuid.UUID
	Code             string
	Value            string
	ExpiresAt        time.Time
	Channel          string
	Email            string
	Phone            *string
	PhoneCountryCode *string
}

// Delivery status constants
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// Delivery channel constants
const (
	ChannelEmail    = "email"
	ChannelWhatsapp = "whatsapp"
)

// Discount type constants
const (
	TypeTenPercent = "10_percent"
)
