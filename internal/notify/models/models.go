package models

import (
	"time"

	ledger "reliefhub/internal/ledger/models"
	id "reliefhub/pkg/domain"
)

// Type classifies a notification for the reader.
type Type string

const (
	TypeRequest                  Type = "REQUEST"
	TypeRequestUpdate            Type = "REQUEST_UPDATE"
	TypeRequestDelete            Type = "REQUEST_DELETE"
	TypeContribution             Type = "CONTRIBUTION"
	TypeContributionConfirmation Type = "CONTRIBUTION_CONFIRMATION"
	TypeContributionDelete       Type = "CONTRIBUTION_DELETE"
	TypeAdminLog                 Type = "ADMIN_LOG"
)

// IntentKind names the committed ledger change an Intent describes.
type IntentKind string

const (
	IntentRequestCreated      IntentKind = "request_created"
	IntentRequestUpdated      IntentKind = "request_updated"
	IntentRequestDeleted      IntentKind = "request_deleted"
	IntentContributionCreated IntentKind = "contribution_created"
	IntentContributionDeleted IntentKind = "contribution_deleted"
)

// Intent is handed over once per committed ledger change. Request is a
// post-commit snapshot; Contribution is set for contribution kinds.
type Intent struct {
	Kind         IntentKind
	Request      ledger.Request
	Contribution *ledger.Contribution
	ActorID      id.UserID
	OccurredAt   time.Time
}

// BroadcastKey partitions broadcast events on the channel.
const BroadcastKey = "broadcast"

// Event is the channel payload. Exactly one of Recipient or Broadcast is set.
type Event struct {
	EventID        string             `json:"event_id"`
	Recipient      string             `json:"recipient,omitempty"`
	Broadcast      bool               `json:"broadcast,omitempty"`
	Type           Type               `json:"type"`
	Message        string             `json:"message"`
	Deletable      bool               `json:"deletable"`
	RequestID      *id.RequestID      `json:"request_id,omitempty"`
	ContributionID *id.ContributionID `json:"contribution_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Key is the ordering key: the recipient, or BroadcastKey.
func (e Event) Key() string {
	if e.Broadcast {
		return BroadcastKey
	}
	return e.Recipient
}

// Notification is a materialized event. RecipientID is nil for admin broadcasts.
type Notification struct {
	ID             id.NotificationID  `json:"id"`
	RecipientID    *id.UserID         `json:"recipient_id,omitempty"`
	AdminBroadcast bool               `json:"admin_broadcast"`
	Type           Type               `json:"type"`
	Message        string             `json:"message"`
	RequestID      *id.RequestID      `json:"request_id,omitempty"`
	ContributionID *id.ContributionID `json:"contribution_id,omitempty"`
	Read           bool               `json:"read"`
	Deletable      bool               `json:"deletable"`
	CreatedAt      time.Time          `json:"created_at"`
}

// OwnedBy reports whether userID is the direct recipient.
func (n *Notification) OwnedBy(userID id.UserID) bool {
	return n.RecipientID != nil && *n.RecipientID == userID
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.RecipientID != nil {
		r := *n.RecipientID
		c.RecipientID = &r
	}
	if n.RequestID != nil {
		r := *n.RequestID
		c.RequestID = &r
	}
	if n.ContributionID != nil {
		r := *n.ContributionID
		c.ContributionID = &r
	}
	return &c
}
