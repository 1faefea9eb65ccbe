package models

import "time"

// Outcome is what happened to one file during a pass.
type Outcome string

const (
	OutcomeMoved         Outcome = "moved"
	OutcomeUnsorted      Outcome = "unsorted"
	OutcomeAlreadySorted Outcome = "already_sorted"
	OutcomeVanished      Outcome = "vanished"
	OutcomeFailed        Outcome = "failed"
	OutcomePlanned       Outcome = "planned"
)

// MoveRecord is one journal row.
type MoveRecord struct {
	PassID     string
	ItemID     string
	Name       string
	SourcePath string
	TargetPath string
	Size       int64
	Tier       Tier
	Method     string
	ResolvedAt *time.Time
	Outcome    Outcome
	Error      string
	CreatedAt  time.Time
}

// PassRecord summarizes one Scanning phase.
type PassRecord struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Listed        int
	Moved         int
	Unsorted      int
	AlreadySorted int
	Vanished      int
	Failed        int
	Aborted       bool
	Error         string
}

// Stats represents journal totals.
type Stats struct {
	Passes        int64
	AbortedPasses int64
	TotalFiles    int64
	MovedFiles    int64
	MovedSize     int64
	UnsortedFiles int64
	UnsortedSize  int64
	AlreadySorted int64
	VanishedFiles int64
	FailedFiles   int64
	LastPassAt    *time.Time
}
