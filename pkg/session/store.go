// Package session 为每个会话键维护进程内可变状态，并以中间件形式挂到 Context 上。
package session

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

// Store 会话存储抽象。
type Store interface {
	// Load 返回 key 对应的会话，不存在时创建。
	Load(key string) *botcore.Session
}

// MemoryStore 进程内会话存储，会话创建后不会被回收。
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*botcore.Session
}

// NewMemoryStore 创建空存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*botcore.Session)}
}

// Load 实现 Store 接口。
func (s *MemoryStore) Load(key string) *botcore.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = botcore.NewSession(key)
		s.sessions[key] = sess
	}
	return sess
}

// Len 返回已创建的会话数。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// KeyFunc 由 Update 计算会话键。
type KeyFunc func(u botcore.Update) string

// DefaultKey 以 "peer:from" 作为会话键，缺少 peer 时退化为发送者。
func DefaultKey(u botcore.Update) string {
	return fmt.Sprintf("%d:%d", u.ReplyTarget(), u.FromID)
}

// Option 自定义中间件。
type Option func(*middleware)

type middleware struct {
	store  Store
	key    KeyFunc
	logger *zap.Logger
}

// WithStore 指定存储，默认使用新的 MemoryStore。
func WithStore(store Store) Option {
	return func(m *middleware) {
		if store != nil {
			m.store = store
		}
	}
}

// WithKeyFunc 替换会话键算法。
func WithKeyFunc(fn KeyFunc) Option {
	return func(m *middleware) {
		if fn != nil {
			m.key = fn
		}
	}
}

// WithLogger 设置日志。
func WithLogger(logger *zap.Logger) Option {
	return func(m *middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Middleware 返回挂载 ctx.Session 的中间件，它总会调用 next。
func Middleware(opts ...Option) botcore.HandlerFunc {
	m := &middleware{
		store:  NewMemoryStore(),
		key:    DefaultKey,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return func(ctx *botcore.Context, next botcore.Next) error {
		key := m.key(ctx.Update)
		ctx.Session = m.store.Load(key)
		m.logger.Debug("session attached", zap.String("dispatch_id", ctx.ID), zap.String("session", key))
		next()
		return nil
	}
}
