package workflow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

func NewLocalWorkflowLock() WorkflowLock {
	return &localWorkflowLock{
		locks: make(map[string]*localLockInfo),
	}
}

type localWorkflowLock struct {
	mu    sync.Mutex // 保护locks表和localLockInfo的簿记字段
	locks map[string]*localLockInfo
}

type localLockInfo struct {
	mu sync.Mutex
	// 当前持有者的标识,超时定时器和defer双路释放靠它保证只释放一次
	holder string
	// 引用计数,归零才从表里删除,避免释放和新获取竞争同一个key时出现两把锁
	refs  int
	timer *time.Timer
}

// NonBlockingSynchronized 非阻塞同步执行
func (l *localWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error {
	// 检查是否已经持有锁（可重入）
	valueInterface := ctx.Value(lockKey(key))
	_, ok := valueInterface.(string)

	if ok {
		// 已经持有锁，可重入，直接执行
		return f(ctx)
	}

	// 生成随机值作为锁标识
	value := l.getRandomValue()

	info := l.acquireInfo(key)
	locked := info.mu.TryLock()
	if !locked {
		// 锁被占用，立即返回失败
		l.releaseInfo(key, info)
		return errors.WithMessage(ErrLockFailed, "[localWorkflowLock.NonBlockingSynchronized] has been locked")
	}

	l.mu.Lock()
	info.holder = value
	// 设置超时自动释放
	info.timer = time.AfterFunc(maxLockTimeDuration, func() {
		l.releaseHolder(key, info, value)
	})
	l.mu.Unlock()

	withKeyCtx := context.WithValue(ctx, lockKey(key), value)

	// 确保释放锁
	defer l.releaseHolder(key, info, value)

	return f(withKeyCtx)
}

// getRandomValue 生成随机值
func (l *localWorkflowLock) getRandomValue() string {
	return fmt.Sprintf("%d_%d", rand.Int(), time.Now().UnixNano())
}

// acquireInfo 拿到key对应的锁对象并加一个引用
func (l *localWorkflowLock) acquireInfo(key string) *localLockInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.locks[key]
	if !ok {
		info = &localLockInfo{}
		l.locks[key] = info
	}
	info.refs++
	return info
}

// releaseInfo 归还引用,没人引用的时候才从表里删掉
func (l *localWorkflowLock) releaseInfo(key string, info *localLockInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info.refs--
	if info.refs <= 0 {
		delete(l.locks, key)
	}
}

// releaseHolder 释放锁,定时器和defer都会走到这里,holder标识保证只有一路生效
func (l *localWorkflowLock) releaseHolder(key string, info *localLockInfo, value string) {
	l.mu.Lock()
	if info.holder != value {
		// 已经被另一路释放过了
		l.mu.Unlock()
		return
	}
	info.holder = ""
	if info.timer != nil {
		info.timer.Stop()
		info.timer = nil
	}
	info.refs--
	if info.refs <= 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()

	info.mu.Unlock()
}
