package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrLockFailed = errors.New("lock failed")
)

// WorkflowLock 迁移互斥锁
// Apply在存储乐观写之外再加一层进程/集群级互斥,同一个实体的并发Apply直接串行化
// 单机用NewLocalWorkflowLock,多实例部署用NewRedisWorkflowLock
type WorkflowLock interface {
	// NonBlockingSynchronized
	//  @Description:  1.非阻塞同步块,如果没有拿到锁，立刻返回错误
	//                 2.可以重入锁
	//  @param ctx 原来的ctx
	//  @param key 分布式锁的的key
	//  @param maxLockTimeDuration 锁最大的时间
	//  @param f 具体执行函数的闭包
	//  @return error
	NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error
}

// ApplyLockKey 一个工作流实例一把锁
// 导出给需要和引擎共用同一把锁的调用方(比如redis部署下的外部协调逻辑)
func ApplyLockKey(workflowInstanceID int64) string {
	return fmt.Sprintf("workflow:apply:%d", workflowInstanceID)
}
