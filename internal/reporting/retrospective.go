// Package reporting keeps a bounded history of processed transactions and
// summarizes it into retrospective reports.
package reporting

import (
	"sync"
	"time"

	"github.com/yourorg/fare-orchestrator/internal/apperr"
	"github.com/yourorg/fare-orchestrator/internal/orchestrator"
)

// LogEntry is the outcome of one processed transaction.
type LogEntry struct {
	Timestamp      time.Time
	TransactionID  string
	Kind           string
	Outcome        string // orchestrator.OutcomeSuccess, OutcomeFailure or OutcomeError
	Redirected     bool
	RedirectReason string
	WhatIfOK       bool
	ActionCode     string
	ErrorCode      string // propagated error code, or the recorded reissue pricing code
}

// EntryFromResult converts an orchestrator result taken at ts.
func EntryFromResult(r orchestrator.Result, ts time.Time) LogEntry {
	code := r.ErrorCode
	if code == "" && r.ReissuePricingErrorCode != string(apperr.NoError) {
		code = r.ReissuePricingErrorCode
	}
	return LogEntry{
		Timestamp:      ts,
		TransactionID:  r.TransactionID,
		Kind:           r.Kind,
		Outcome:        r.Outcome,
		Redirected:     r.Redirected,
		RedirectReason: r.RedirectReason,
		WhatIfOK:       r.CSOTransSuccessful,
		ActionCode:     r.ActionCode,
		ErrorCode:      code,
	}
}

// RetrospectiveReport summarizes orchestration activity over a set of log entries.
type RetrospectiveReport struct {
	TotalTransactions  int            `json:"totalTransactions"`
	Succeeded          int            `json:"succeeded"`
	Failed             int            `json:"failed"`
	Errored            int            `json:"errored"`
	Redirected         int            `json:"redirected"`
	WhatIfSucceeded    int            `json:"whatIfSucceeded"`
	ErrorBreakdown     map[string]int `json:"errorBreakdown"`  // by ErrorCode, for failed and errored entries
	RedirectReasons    map[string]int `json:"redirectReasons"` // by triggering error code
	KindUsage          map[string]int `json:"kindUsage"`
	DateFrom           time.Time      `json:"dateFrom"`
	DateTo             time.Time      `json:"dateTo"`
	ProcessingDuration time.Duration  `json:"processingDuration"`
}

// RetrospectiveReporter generates retrospective reports from log entries.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyzes a slice of LogEntry items and produces a RetrospectiveReport.
func (rr *RetrospectiveReporter) GenerateRetrospective(logs []LogEntry) (*RetrospectiveReport, error) {
	report := &RetrospectiveReport{
		ErrorBreakdown:  make(map[string]int),
		RedirectReasons: make(map[string]int),
		KindUsage:       make(map[string]int),
	}
	if len(logs) == 0 {
		return report, nil
	}

	report.DateFrom = logs[0].Timestamp
	report.DateTo = logs[0].Timestamp
	for _, log := range logs {
		report.TotalTransactions++

		if log.Timestamp.Before(report.DateFrom) {
			report.DateFrom = log.Timestamp
		}
		if log.Timestamp.After(report.DateTo) {
			report.DateTo = log.Timestamp
		}
		if log.Kind != "" {
			report.KindUsage[log.Kind]++
		}
		if log.Redirected {
			report.Redirected++
			if log.RedirectReason != "" {
				report.RedirectReasons[log.RedirectReason]++
			}
		}
		if log.WhatIfOK {
			report.WhatIfSucceeded++
		}

		switch log.Outcome {
		case orchestrator.OutcomeSuccess:
			report.Succeeded++
			continue
		case orchestrator.OutcomeFailure:
			report.Failed++
		case orchestrator.OutcomeError:
			report.Errored++
		}
		if log.ErrorCode != "" {
			report.ErrorBreakdown[log.ErrorCode]++
		}
	}
	report.ProcessingDuration = report.DateTo.Sub(report.DateFrom)
	return report, nil
}

// History is a bounded, concurrency-safe log of the most recent entries.
type History struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewHistory creates a History keeping at most capacity entries. A
// non-positive capacity keeps 1000.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1000
	}
	return &History{entries: make([]LogEntry, capacity)}
}

// Add records e, evicting the oldest entry when full.
func (h *History) Add(e LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Entries returns the recorded entries, oldest first.
func (h *History) Entries() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]LogEntry(nil), h.entries[:h.next]...)
	}
	out := make([]LogEntry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}
