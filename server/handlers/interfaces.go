// Package handlers provides the HTTP handlers behind flowctl serve.
//
// Each handler is in its own file and implements http.Handler. Handlers use
// interfaces to reach server dependencies, avoiding circular imports.
package handlers

import (
	"time"

	"github.com/nomis52/flowmaster/audit"
	"github.com/nomis52/flowmaster/performance"
)

// PerformanceReporter builds performance reports. *performance.Tracker
// implements it.
type PerformanceReporter interface {
	Report(window time.Duration) performance.Report
}

// AuditQuerier queries the audit log. *audit.Log implements it.
type AuditQuerier interface {
	Query(f audit.Filter) []audit.Entry
}

// StatusProvider reports the state of the serving process.
type StatusProvider interface {
	// NextMaintenance returns the next scheduled maintenance run, or nil if
	// none is scheduled.
	NextMaintenance() *time.Time
	StartedAt() time.Time
}
