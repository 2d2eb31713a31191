package ingest

import "strings"

// PurchaseEvent is a completed payment as delivered by the processor adapter.
type PurchaseEvent struct {
	Email          string `json:"email" validate:"required"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	SourceEventID  string `json:"source_event_id" validate:"required"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
}

func (e PurchaseEvent) normalized() PurchaseEvent {
	e.Email = strings.TrimSpace(e.Email)
	e.Name = strings.TrimSpace(e.Name)
	e.Phone = strings.TrimSpace(e.Phone)
	e.Address = strings.TrimSpace(e.Address)
	e.SourceEventID = strings.TrimSpace(e.SourceEventID)
	e.CustomerID = strings.TrimSpace(e.CustomerID)
	e.SubscriptionID = strings.TrimSpace(e.SubscriptionID)
	return e
}

// Result reports what ingestion did with an event.
type Result struct {
	Skipped bool  `json:"skipped"`
	RowID   int64 `json:"row_id,omitempty"`
}
