// Package registry holds the static topology of shard databases: which
// cluster serves which shard database and the numeric id every shard's rows
// are tagged with.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultDriver is the database/sql driver used when a cluster names none.
const DefaultDriver = "pgx"

var (
	ErrDuplicateShard = errors.New("duplicate shard name")
	ErrDuplicateID    = errors.New("duplicate shard id")
	ErrMissingID      = errors.New("shard has no numeric id")
	ErrInvalidCluster = errors.New("invalid cluster")
)

// Cluster is one database server and the shard databases it hosts.
type Cluster struct {
	Name   string   `mapstructure:"name" json:"name"`
	Driver string   `mapstructure:"driver" json:"driver,omitempty"`
	Host   string   `mapstructure:"host" json:"host"`
	Port   int      `mapstructure:"port" json:"port"`
	DBs    []string `mapstructure:"dbs" json:"dbs"`
}

// Shard describes one shard database. Values are immutable once the
// registry is built.
type Shard struct {
	Cluster string `json:"cluster"`
	Driver  string `json:"driver"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Name    string `json:"name"`
	ID      int    `json:"id"`
}

// Registry is read-only after New and safe for concurrent use.
type Registry struct {
	clusters []Cluster
	shards   []Shard
	byName   map[string]int
}

// New validates the topology and builds a registry. Every shard database
// must be unique across clusters and must have an id in ids. Shard names
// match case-insensitively everywhere; Shard.Name keeps the configured
// spelling since it is the database name.
func New(clusters []Cluster, ids map[string]int) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]int),
	}
	seenIDs := make(map[int]string)
	lowerIDs := make(map[string]int, len(ids))
	for name, id := range ids {
		lowerIDs[key(name)] = id
	}

	for _, c := range clusters {
		if c.Name == "" || c.Host == "" {
			return nil, fmt.Errorf("%w: cluster %q needs a name and a host", ErrInvalidCluster, c.Name)
		}
		driver := c.Driver
		if driver == "" {
			driver = DefaultDriver
		}

		for _, db := range c.DBs {
			if _, exists := r.byName[key(db)]; exists {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateShard, db)
			}
			id, ok := lowerIDs[key(db)]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrMissingID, db)
			}
			if other, taken := seenIDs[id]; taken {
				return nil, fmt.Errorf("%w: %d used by %s and %s", ErrDuplicateID, id, other, db)
			}
			seenIDs[id] = db

			r.byName[key(db)] = len(r.shards)
			r.shards = append(r.shards, Shard{
				Cluster: c.Name,
				Driver:  driver,
				Host:    c.Host,
				Port:    c.Port,
				Name:    db,
				ID:      id,
			})
		}

		c.Driver = driver
		c.DBs = append([]string(nil), c.DBs...)
		r.clusters = append(r.clusters, c)
	}

	return r, nil
}

// Resolve returns the shards whose names appear in names, in configuration
// order. Unknown names are ignored and repeated names collapse.
func (r *Registry) Resolve(names []string) []Shard {
	if len(names) == 0 {
		return nil
	}

	wanted := make([]bool, len(r.shards))
	for _, name := range names {
		if idx, ok := r.byName[key(name)]; ok {
			wanted[idx] = true
		}
	}

	var out []Shard
	for idx, ok := range wanted {
		if ok {
			out = append(out, r.shards[idx])
		}
	}
	return out
}

// Lookup returns the shard with the given database name.
func (r *Registry) Lookup(name string) (Shard, bool) {
	idx, ok := r.byName[key(name)]
	if !ok {
		return Shard{}, false
	}
	return r.shards[idx], true
}

// Shards returns a copy of every configured shard in configuration order.
func (r *Registry) Shards() []Shard {
	return append([]Shard(nil), r.shards...)
}

// Names returns every shard name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.shards))
	for _, s := range r.shards {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Clusters returns a copy of the configured clusters.
func (r *Registry) Clusters() []Cluster {
	out := make([]Cluster, len(r.clusters))
	for i, c := range r.clusters {
		c.DBs = append([]string(nil), c.DBs...)
		out[i] = c
	}
	return out
}

// Len reports the number of configured shards.
func (r *Registry) Len() int {
	return len(r.shards)
}

// key is the lookup form of a shard name. Config keys arrive lower-cased
// from viper while list values keep their case.
func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
