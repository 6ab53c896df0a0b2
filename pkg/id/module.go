package id

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// NewNode builds the process-wide snowflake generator. A single node id is
// enough for the current deployment shape; multi-node sharding would take
// the id from config.
func NewNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

var Module = fx.Module("id",
	fx.Provide(NewNode),
)
