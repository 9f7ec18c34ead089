package cairndb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/encoding"
)

// blocklist is the in-memory view of all blocks in the backend.  The poller
// replaces it wholesale, the compactor and retention update it in place so
// their changes are visible before the next poll.
type blocklist struct {
	mtx            sync.RWMutex
	metas          map[string][]*encoding.BlockMeta
	compactedMetas map[string][]*encoding.CompactedBlockMeta
}

func newBlocklist() *blocklist {
	return &blocklist{
		metas:          make(map[string][]*encoding.BlockMeta),
		compactedMetas: make(map[string][]*encoding.CompactedBlockMeta),
	}
}

func (l *blocklist) Tenants() []string {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	tenants := make([]string, 0, len(l.metas))
	for tenant := range l.metas {
		tenants = append(tenants, tenant)
	}

	return tenants
}

func (l *blocklist) Metas(tenantID string) []*encoding.BlockMeta {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	copiedBlocklist := make([]*encoding.BlockMeta, 0, len(l.metas[tenantID]))
	copiedBlocklist = append(copiedBlocklist, l.metas[tenantID]...)
	return copiedBlocklist
}

func (l *blocklist) CompactedMetas(tenantID string) []*encoding.CompactedBlockMeta {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	copiedBlocklist := make([]*encoding.CompactedBlockMeta, 0, len(l.compactedMetas[tenantID]))
	copiedBlocklist = append(copiedBlocklist, l.compactedMetas[tenantID]...)
	return copiedBlocklist
}

// ApplyPollResults installs a fresh blocklist from the backend.
func (l *blocklist) ApplyPollResults(m map[string][]*encoding.BlockMeta, c map[string][]*encoding.CompactedBlockMeta) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	l.metas = m
	l.compactedMetas = c
}

// Update adds and removes blocks for one tenant.
func (l *blocklist) Update(tenantID string, add []*encoding.BlockMeta, remove []*encoding.BlockMeta, compactedAdd []*encoding.CompactedBlockMeta, compactedRemove []*encoding.CompactedBlockMeta) {
	if len(add) == 0 && len(remove) == 0 && len(compactedAdd) == 0 && len(compactedRemove) == 0 {
		return
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	existing := l.metas[tenantID]
	newblocklist := make([]*encoding.BlockMeta, 0, len(existing)+len(add)-len(remove))
	for _, b := range existing {
		if !containsBlock(remove, b.BlockID) {
			newblocklist = append(newblocklist, b)
		}
	}
	newblocklist = append(newblocklist, add...)
	l.metas[tenantID] = newblocklist

	existingCompacted := l.compactedMetas[tenantID]
	newCompacted := make([]*encoding.CompactedBlockMeta, 0, len(existingCompacted)+len(compactedAdd)-len(compactedRemove))
	for _, b := range existingCompacted {
		removed := false
		for _, rem := range compactedRemove {
			if rem.BlockID == b.BlockID {
				removed = true
				break
			}
		}
		if !removed {
			newCompacted = append(newCompacted, b)
		}
	}
	newCompacted = append(newCompacted, compactedAdd...)
	l.compactedMetas[tenantID] = newCompacted
}

func containsBlock(metas []*encoding.BlockMeta, id uuid.UUID) bool {
	for _, m := range metas {
		if m.BlockID == id {
			return true
		}
	}
	return false
}
