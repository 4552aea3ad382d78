package domain

import "time"

// Snapshot holds the usage counters observed for one billing run.
type Snapshot struct {
	Since             time.Time `json:"since"`
	Until             time.Time `json:"until"`
	FoliosIssued      int64     `json:"folios_issued"`
	PaymentTransfers  int64     `json:"payment_transfers"`
	PaymentsAvailable bool      `json:"payments_available"`
}
