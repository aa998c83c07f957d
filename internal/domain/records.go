package domain

import (
	"strings"
	"time"
)

// CooldownKey identifies one (owner, order, action) dispatch slot.
type CooldownKey struct {
	Owner   string
	OrderID string
	Action  Action
}

// String renders the key as owner|order|action.
func (k CooldownKey) String() string {
	return k.Owner + "|" + k.OrderID + "|" + string(k.Action)
}

// NewCooldownKey builds the canonical key. Owner is the confirmed account
// (lower-cased) when known, else the conversation id.
func NewCooldownKey(s Session, orderID string, a Action) CooldownKey {
	owner := strings.ToLower(strings.TrimSpace(s.UserID))
	if owner == "" {
		owner = s.ConversationID
	}
	return CooldownKey{Owner: owner, OrderID: orderID, Action: a}
}

// CooldownRecord is the persisted last-dispatch time for a CooldownKey.
type CooldownRecord struct {
	ID           string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Owner        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_cooldown_owner_order_action,priority:1"`
	OrderID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_cooldown_owner_order_action,priority:2"`
	Action       Action    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_cooldown_owner_order_action,priority:3"`
	DispatchedAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (CooldownRecord) TableName() string { return "cooldowns" }

// Outbound message kinds.
const (
	OutboundProvider = "provider"
	OutboundSupport  = "support"
)

// OutboundMessage is a channel send queued for a transport bridge to deliver.
type OutboundMessage struct {
	ID          string     `gorm:"type:TEXT NOT NULL;primaryKey" json:"id"`
	ChannelID   string     `gorm:"type:TEXT NOT NULL;index:idx_outbox_channel_pending,priority:1" json:"channel_id"`
	Kind        string     `gorm:"type:TEXT NOT NULL" json:"kind"`
	Text        string     `gorm:"type:TEXT NOT NULL" json:"text"`
	CreatedAt   time.Time  `gorm:"type:DATETIME NOT NULL;autoCreateTime" json:"created_at"`
	DeliveredAt *time.Time `gorm:"type:DATETIME;index:idx_outbox_channel_pending,priority:2" json:"delivered_at,omitempty"`
}

// TableName implements the GORM tabler interface.
func (OutboundMessage) TableName() string { return "outbox" }

// InboundReceipt records the replies produced for an inbound message keyed by
// (conversation_id, key). A transport that redelivers the same message gets
// the stored replies back instead of a second run through the pipeline.
type InboundReceipt struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ConversationID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_conversation_key,priority:1"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_conversation_key,priority:2"`
	Replies        string    `gorm:"type:TEXT NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (InboundReceipt) TableName() string { return "inbound_receipts" }
