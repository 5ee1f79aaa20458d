package realtime

import "sync"

// Registry はユーザーごとの生存中のEmitterを管理する。
// 1ユーザーが複数タブから接続した場合は複数のEmitterを持つ。
type Registry struct {
	mu       sync.RWMutex
	emitters map[string]map[ID]*Emitter
	count    int
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{emitters: make(map[string]map[ID]*Emitter)}
}

// Save はkeyでEmitterを登録し、同じEmitterを返す。
func (r *Registry) Save(key ID, e *Emitter) *Emitter {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey, ok := r.emitters[key.UserID]
	if !ok {
		byKey = make(map[ID]*Emitter)
		r.emitters[key.UserID] = byKey
	}
	if _, exists := byKey[key]; !exists {
		r.count++
	}
	byKey[key] = e
	return e
}

// Remove はkeyのEmitterを登録解除する。未登録のkeyでは何もしない。
func (r *Registry) Remove(key ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey, ok := r.emitters[key.UserID]
	if !ok {
		return
	}
	if _, exists := byKey[key]; !exists {
		return
	}
	delete(byKey, key)
	r.count--
	if len(byKey) == 0 {
		delete(r.emitters, key.UserID)
	}
}

// FindAllForUser はユーザーの生存中のEmitterのスナップショットを返す。
// 返したmapを変更してもRegistryには影響しない。
func (r *Registry) FindAllForUser(userID string) map[ID]*Emitter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byKey := r.emitters[userID]
	snapshot := make(map[ID]*Emitter, len(byKey))
	for k, e := range byKey {
		snapshot[k] = e
	}
	return snapshot
}

// Len は生存中の接続数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
