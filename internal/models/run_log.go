package models

import "time"

// RunStatus is the state of a remote run.
type RunStatus string

const (
	RunStart    RunStatus = "start"
	RunEmpty    RunStatus = "empty"
	RunFinished RunStatus = "finished"
	RunError    RunStatus = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunEmpty || s == RunFinished || s == RunError
}

// RunLog tracks one remote (asynchronous) fan-out run.
type RunLog struct {
	ID           int64      `json:"id"`
	Owner        string     `json:"owner"`
	Status       RunStatus  `json:"status"`
	SQL          string     `json:"sql"`
	Shards       []string   `json:"shards"`
	ShardList    string     `json:"shard_list,omitempty"` // label of the preset the shards came from
	CreatedTable *string    `json:"created_table,omitempty"`
	ErrorDetail  *string    `json:"error,omitempty"`
	RunOn        time.Time  `json:"run_on"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}
