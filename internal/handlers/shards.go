package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/catopus/internal/registry"
)

// ShardLister exposes the configured shards.
type ShardLister interface {
	Shards() []registry.Shard
}

type shardBody struct {
	Name    string `json:"name"`
	ID      int    `json:"id"`
	Cluster string `json:"cluster"`
}

// ShardsHandler lists shards. GET /api/shards
func ShardsHandler(reg ShardLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		shards := reg.Shards()
		out := make([]shardBody, len(shards))
		for i, s := range shards {
			out[i] = shardBody{Name: s.Name, ID: s.ID, Cluster: s.Cluster}
		}
		c.JSON(http.StatusOK, gin.H{"shards": out})
	}
}
