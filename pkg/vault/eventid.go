// 文件: pkg/vault/eventid.go
// 雪花算法事件 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake

package vault

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	idNode   *snowflake.Node
	initOnce sync.Once
)

// InitSnowflake 初始化雪花算法
// nodeID: 节点ID (0-1023)，多实例部署时各自配置
func InitSnowflake(nodeID int64) error {
	var err error
	initOnce.Do(func() {
		idNode, err = snowflake.NewNode(nodeID)
	})
	return err
}

// nextEventID 生成事件 ID
// 事件 ID 全局唯一，下游幂等消费用它去重
func nextEventID() int64 {
	if idNode == nil {
		// 未初始化则使用默认节点0
		InitSnowflake(0)
	}
	return idNode.Generate().Int64()
}
