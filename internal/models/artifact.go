package models

import "time"

// Artifact is a stored snapshot of a merged result, addressable by its
// identifier.
type Artifact struct {
	Identifier string    `json:"identifier"`
	Owner      string    `json:"owner"`
	SQL        string    `json:"sql"`
	Shards     []string  `json:"shards"`
	ShardList  string    `json:"shard_list,omitempty"`
	BlobKey    string    `json:"blob_key"`
	RowCount   int64     `json:"row_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// SavedScript is a query a user kept for later reuse.
type SavedScript struct {
	ID        int64     `json:"id"`
	Owner     string    `json:"owner"`
	SQL       string    `json:"sql"`
	Shards    []string  `json:"shards"`
	ShardList string    `json:"shard_list,omitempty"`
	SavedOn   time.Time `json:"saved_on"`
}
