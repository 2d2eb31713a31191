package models

import (
	"time"

	"github.com/angelmondragon/invite-ledger/pkg/enums"
)

// LedgerEntry is one recorded purchase in the SQL-backed invite ledger.
type LedgerEntry struct {
	ID                  int64                  `gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAt           time.Time              `gorm:"column:created_at;not null"`
	Email               string                 `gorm:"column:email;not null;uniqueIndex:ux_invite_ledger_email_source_event,priority:1"`
	Name                string                 `gorm:"column:name;not null;default:''"`
	Phone               string                 `gorm:"column:phone;not null;default:''"`
	Address             string                 `gorm:"column:address;not null;default:''"`
	SourceEventID       string                 `gorm:"column:source_event_id;not null;uniqueIndex:ux_invite_ledger_email_source_event,priority:2"`
	CustomerID          string                 `gorm:"column:customer_id;not null;default:''"`
	SubscriptionID      string                 `gorm:"column:subscription_id;not null;default:''"`
	FulfillmentState    enums.FulfillmentState `gorm:"column:fulfillment_state;not null;default:'UNFULFILLED';index:ix_invite_ledger_state_id,priority:1"`
	InvitationToken     string                 `gorm:"column:invitation_token;not null;default:''"`
	ExternalRecipientID string                 `gorm:"column:external_recipient_id;not null;default:''"`
	FulfillmentNote     string                 `gorm:"column:fulfillment_note;not null;default:''"`
	UpdatedAt           time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (LedgerEntry) TableName() string { return "invite_ledger" }
