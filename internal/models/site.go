package models

import "time"

// SiteState is a named global switch, e.g. the signup state of the lottery
type SiteState struct {
	Name      string    `db:"name" json:"name"`
	State     string    `db:"state" json:"state"`
	UpdatedAt time.Time `db:"updatedAt" json:"updatedAt"`
}

// TaskRun records one execution of a periodic job
type TaskRun struct {
	ID         uint       `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	StartedAt  time.Time  `db:"startedAt" json:"startedAt"`
	FinishedAt *time.Time `db:"finishedAt" json:"finishedAt,omitempty"`
	Success    int        `db:"success" json:"success"`
	Failed     int        `db:"failed" json:"failed"`
}
