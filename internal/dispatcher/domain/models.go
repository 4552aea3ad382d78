package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
)

// TriggerPoint is the order transition that stamps the invoice.
type TriggerPoint string

const (
	TriggerAtPurchase TriggerPoint = "AT_PURCHASE"
	TriggerAtDelivery TriggerPoint = "AT_DELIVERY"
)

const (
	StatusAccepted  = "ACCEPTED"
	StatusDelivered = "DELIVERED"
)

func (p TriggerPoint) Valid() bool {
	return p == TriggerAtPurchase || p == TriggerAtDelivery
}

// Status returns the order status the trigger point fires on.
func (p TriggerPoint) Status() string {
	switch p {
	case TriggerAtPurchase:
		return StatusAccepted
	case TriggerAtDelivery:
		return StatusDelivered
	default:
		return ""
	}
}

// Billable reports whether any trigger point can fire on status.
func Billable(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusAccepted, StatusDelivered:
		return true
	default:
		return false
	}
}

type SupplierUnit struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	SupplierBusinessID snowflake.ID `gorm:"not null;index" json:"supplier_business_id"`
	AutomatedInvoicing bool         `gorm:"not null;default:false" json:"automated_invoicing"`
	TriggeredAt        TriggerPoint `gorm:"type:text;not null;default:'AT_PURCHASE'" json:"triggered_at"`
	CreatedAt          time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null" json:"updated_at"`
}

func (SupplierUnit) TableName() string { return "supplier_units" }

// SupplierRestaurantRelation overrides the unit defaults for one
// restaurant. Nil fields inherit from the unit.
type SupplierRestaurantRelation struct {
	ID                   snowflake.ID  `gorm:"primaryKey" json:"id"`
	SupplierUnitID       snowflake.ID  `gorm:"not null;uniqueIndex:ux_supplier_restaurant" json:"supplier_unit_id"`
	RestaurantBusinessID snowflake.ID  `gorm:"not null;uniqueIndex:ux_supplier_restaurant" json:"restaurant_business_id"`
	AutomatedInvoicing   *bool         `json:"automated_invoicing,omitempty"`
	TriggeredAt          *TriggerPoint `gorm:"type:text" json:"triggered_at,omitempty"`
	CreatedAt            time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"not null" json:"updated_at"`
}

func (SupplierRestaurantRelation) TableName() string { return "supplier_restaurant_relations" }

type PolicySource string

const (
	SourceDefault  PolicySource = "default"
	SourceUnit     PolicySource = "supplier_unit"
	SourceRelation PolicySource = "relation"
)

// Policy is the invoicing automation that applies to one order.
type Policy struct {
	AutomatedInvoicing bool         `json:"automated_invoicing"`
	TriggeredAt        TriggerPoint `json:"triggered_at"`
	Source             PolicySource `json:"source"`
}

// Fires reports whether the policy stamps an invoice on status.
func (p Policy) Fires(status string) bool {
	return p.AutomatedInvoicing && p.TriggeredAt.Status() == strings.ToUpper(strings.TrimSpace(status))
}

const (
	ReasonNotBillable      = "status_not_billable"
	ReasonDisabled         = "automation_disabled"
	ReasonMismatch         = "trigger_point_mismatch"
	ReasonAlreadySucceeded = "already_succeeded"
	ReasonAlreadyRunning   = "already_running"
	ReasonTriggered        = "triggered"
)

// Outcome describes what the dispatcher did with one status change.
type Outcome struct {
	Triggered bool                  `json:"triggered"`
	Reason    string                `json:"reason"`
	Policy    *Policy               `json:"policy,omitempty"`
	Execution *execdomain.Execution `json:"execution,omitempty"`
	Succeeded bool                  `json:"succeeded"`
}

// StatusChangedEvent is the payload published on order status changes.
type StatusChangedEvent struct {
	SubjectID  string    `json:"subject_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}
