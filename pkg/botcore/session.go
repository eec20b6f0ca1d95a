package botcore

import (
	"sync"
)

// Session 按会话键隔离的可变状态。
// 由 session.Store 惰性创建并在进程生命周期内复用；所有方法并发安全。
type Session struct {
	key    string
	mu     sync.RWMutex
	values map[string]any
}

// NewSession 创建空会话。
func NewSession(key string) *Session {
	return &Session{key: key, values: make(map[string]any)}
}

// Key 返回会话键。
func (s *Session) Key() string {
	if s == nil {
		return ""
	}
	return s.key
}

// Get 读取字段。
func (s *Session) Get(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Set 写入字段。
func (s *Session) Set(name string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
}

// Delete 删除字段。
func (s *Session) Delete(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.values, name)
	s.mu.Unlock()
}

// Update 在写锁内对字段做读-改-写。fn 收到当前值（不存在时 ok=false），
// 返回新值与是否保留；keep=false 时删除该字段。
func (s *Session) Update(name string, fn func(current any, ok bool) (next any, keep bool)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.values[name]
	next, keep := fn(cur, ok)
	if keep {
		s.values[name] = next
	} else {
		delete(s.values, name)
	}
}

// SessionValue 以指定类型读取会话字段，类型不符视为不存在。
func SessionValue[T any](s *Session, name string) (T, bool) {
	var zero T
	v, ok := s.Get(name)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
