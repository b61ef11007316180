// Package chat 会话连接管理与消息处理流水线
// Registry 保存进程内存活的客户端句柄，Manager 驱动连接生命周期，
// InboundProcessor 处理入站消息，DeliveryEngine 负责分段和打字节奏投递
package chat

import (
	"sort"
	"sync"

	"chatty_session_server/internal/gateway/protocol"
)

// Entry 注册表中的一条记录
type Entry struct {
	Handle   protocol.Client
	TenantID string
	OwnerID  string
}

// Registry 会话 id -> 存活句柄，读多写少，用读写锁保护
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register 同一会话重复注册时覆盖旧句柄
func (r *Registry) Register(sessionID string, handle protocol.Client, tenantID, ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = Entry{Handle: handle, TenantID: tenantID, OwnerID: ownerID}
}

func (r *Registry) Get(sessionID string) (protocol.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[sessionID]
	return entry.Handle, ok
}

func (r *Registry) Lookup(sessionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[sessionID]
	return entry, ok
}

func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// RemoveIf 只有当前句柄仍是 handle 时才移除，避免旧连接清掉重连后的新句柄
func (r *Registry) RemoveIf(sessionID string, handle protocol.Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok || entry.Handle != handle {
		return false
	}
	delete(r.entries, sessionID)
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SessionIDs 按字典序返回
func (r *Registry) SessionIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
