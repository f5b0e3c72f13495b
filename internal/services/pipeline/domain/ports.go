package domain

import "context"

// RunnerPort is the public port exposed by the module
type RunnerPort interface {
	Run(ctx context.Context, units []WorkUnit) (Report, error)
}

// Ledger persists unit progress so a job can be resumed
type Ledger interface {
	// StartUnit marks the unit running for jobID
	StartUnit(ctx context.Context, jobID string, u WorkUnit) error

	// FinishUnit stores the terminal result
	FinishUnit(ctx context.Context, jobID string, r UnitResult) error

	// Completed returns the input paths already completed under jobID
	Completed(ctx context.Context, jobID string) (map[string]bool, error)
}

// LedgerRepo is the sql bound repository behind a persistent Ledger
type LedgerRepo interface {
	StartUnit(ctx context.Context, jobID string, u WorkUnit) error
	FinishUnit(ctx context.Context, jobID string, r UnitResult) error
	CompletedPaths(ctx context.Context, jobID string) ([]string, error)
}
