// Package modkit provides module wiring and core deps
package modkit

import (
	"oscartools/internal/modkit/repokit"
	"oscartools/internal/platform/config"
	"oscartools/internal/platform/logger"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	// DB is the optional sqlite seam, nil when no ledger file is configured
	DB repokit.TxRunner
}

// ZeroOK returns true when deps are safe to use with zero values in tests
// consumers should still nil check for optional stores
func (d Deps) ZeroOK() bool { return true }

// HasDB reports whether a database seam was wired
func (d Deps) HasDB() bool { return d.DB != nil }
