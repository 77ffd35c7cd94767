package domain

import "context"

// DeductRequest describes a single credit deduction.
type DeductRequest struct {
	CallerKey  string
	Cost       int
	Tokens     int
	MissionID  string
	AgentID    string
	Department string
	Context    string // task summary stored alongside the record
}

// LedgerStore is the durable credit ledger.
type LedgerStore interface {
	// Deduct debits the caller and appends one usage record atomically. It
	// returns false without error when the caller cannot be charged.
	Deduct(ctx context.Context, req DeductRequest) (bool, error)
	// RecordTransaction appends one completed-mission record atomically.
	RecordTransaction(ctx context.Context, callerKey, missionID, agentID, department string, cost int) error
	// UsageReport sums cost per department for a caller.
	UsageReport(ctx context.Context, callerKey string) (map[string]int, error)
}
