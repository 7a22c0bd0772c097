package idutils

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
	nodeErr  error
)

// NodeID is the snowflake node number of this process. Set it before the first ID is generated when several
// processes write to the same store.
var NodeID int64 = 1

// GenerateSnowflakeId generates a process-wide unique snowflake ID. All IDs come from the same node so that two
// IDs generated within the same millisecond never collide.
func GenerateSnowflakeId() (string, error) {
	id, err := GenerateSnowflakeInt64()
	if err != nil {
		return "", err
	}

	return snowflake.ParseInt64(id).String(), nil
}

// GenerateSnowflakeInt64 is like `GenerateSnowflakeId` but returns the raw int64.
func GenerateSnowflakeInt64() (int64, error) {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(NodeID)
	})
	if nodeErr != nil {
		return 0, errors.Wrap(nodeErr, "无法生成 ID")
	}

	return node.Generate().Int64(), nil
}
