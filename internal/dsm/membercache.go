package dsm

import (
	"sync"

	"github.com/dreamware/torua-dsm/internal/cluster"
	"github.com/dreamware/torua-dsm/internal/transport"
)

// memberCache is every node's local view of the cluster membership
// learned at registration: a transport.NodeID -> data-plane address map.
// It implements both internal/protocol.AddrBook and
// internal/syncprim.AddrBook, which share the same method shape by
// design (see internal/syncprim/manager.go's AddrBook doc comment).
type memberCache struct {
	mu   sync.RWMutex
	addr map[transport.NodeID]string
}

func newMemberCache() *memberCache {
	return &memberCache{addr: make(map[transport.NodeID]string)}
}

// Update merges the given registry snapshot into the cache, indexing by
// position since each node's own declared Index is reused directly as
// its transport.NodeID. Entries already cached are kept unless the
// snapshot holds a registered address for the same index.
func (m *memberCache) Update(members []cluster.NodeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, info := range members {
		if info.DataAddr == "" {
			continue // index not yet registered
		}
		m.addr[transport.NodeID(i)] = info.DataAddr
	}
}

// DataAddr implements internal/protocol.AddrBook and
// internal/syncprim.AddrBook.
func (m *memberCache) DataAddr(node transport.NodeID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addr, ok := m.addr[node]
	return addr, ok
}
