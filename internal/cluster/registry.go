package cluster

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Registry is the manager-hosted membership table: it records each
// registering node's own admin-assigned index (its config node_id, reused
// directly as its internal/transport.NodeID) and hands back the full
// member list so a late joiner can resolve every peer's data address
// without a second round trip.
//
// Modeled on internal/coordinator.ShardRegistry's single mutex-protected
// map, generalized from shard ownership to node identity.
type Registry struct {
	mu       sync.Mutex
	numNodes int
	members  map[uint32]NodeInfo
}

// NewRegistry constructs an empty registry expecting numNodes total
// members.
func NewRegistry(numNodes int) *Registry {
	return &Registry{numNodes: numNodes, members: make(map[uint32]NodeInfo)}
}

// Register records node at its own claimed Index and returns the
// response the wire protocol expects: the index echoed back for
// confirmation, plus the full membership snapshot.
func (r *Registry) Register(node NodeInfo) RegisterResponse {
	r.mu.Lock()
	r.members[node.Index] = node
	r.mu.Unlock()
	return RegisterResponse{NodeIndex: node.Index, NumNodes: r.numNodes, Members: r.Members()}
}

// Members returns a snapshot of the current membership list, ordered by
// index so position i always describes the node registered at index i
// (holes are left as a zero-value NodeInfo if a node hasn't registered
// yet — memberCache.Update skips those).
func (r *Registry) Members() []NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxIdx := uint32(0)
	for idx := range r.members {
		if idx+1 > maxIdx {
			maxIdx = idx + 1
		}
	}
	if int(maxIdx) < r.numNodes {
		maxIdx = uint32(r.numNodes)
	}
	out := make([]NodeInfo, maxIdx)
	for idx, info := range r.members {
		out[idx] = info
	}
	return out
}

// DataAddr resolves idx's data-plane address, satisfying
// internal/protocol.AddrBook and internal/syncprim.AddrBook.
func (r *Registry) DataAddr(idx uint32) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.members[idx]
	return info.DataAddr, ok
}

// SetStatus updates the liveness status last recorded for the node at
// idx, called from internal/directory.LivenessMonitor's onGone path.
func (r *Registry) SetStatus(idx uint32, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.members[idx]
	if !ok {
		return
	}
	info.Status = status
	r.members[idx] = info
}

// RegisterHandler implements POST /cluster/register.
func (r *Registry) RegisterHandler(w http.ResponseWriter, req *http.Request) {
	var body RegisterRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := r.Register(body.Node)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// MembersHandler implements GET /cluster/members, polled by a node's
// internal/dsm.Init until every expected peer has registered.
func (r *Registry) MembersHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(r.Members())
}
