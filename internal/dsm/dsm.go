package dsm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dreamware/torua-dsm/internal/cluster"
	"github.com/dreamware/torua-dsm/internal/directory"
	"github.com/dreamware/torua-dsm/internal/dsmalloc"
	"github.com/dreamware/torua-dsm/internal/dsmerr"
	"github.com/dreamware/torua-dsm/internal/dsmlog"
	"github.com/dreamware/torua-dsm/internal/dsmstats"
	"github.com/dreamware/torua-dsm/internal/pagetable"
	"github.com/dreamware/torua-dsm/internal/protocol"
	"github.com/dreamware/torua-dsm/internal/statsprofile"
	"github.com/dreamware/torua-dsm/internal/syncprim"
	"github.com/dreamware/torua-dsm/internal/traphandler"
	"github.com/dreamware/torua-dsm/internal/transport"
	"github.com/dreamware/torua-dsm/internal/vm"
)

// DSM is the application API façade: one instance per process, whether it
// is the manager or an ordinary node (the manager is also a node — it
// runs its own protocol.Node and participates in the coherence protocol
// like every other member, per spec §4.4).
type DSM struct {
	cfg  Config
	self transport.NodeID
	log  *dsmlog.Logger

	tr      transport.Transport
	members *memberCache

	table      *pagetable.Table
	node       *protocol.Node
	syncClient *syncprim.Client
	allocSvc   *dsmalloc.Client
	stats      *dsmstats.Stats
	vmSource   vm.Source

	mu       sync.Mutex
	regions  map[uint64]vm.Region // allocation base -> region
	handlers map[uint64]*traphandler.Handler
	finalized bool

	// manager-only fields, nil on an ordinary node
	registry    *cluster.Registry
	dir         *directory.Directory
	manager     *protocol.Manager
	managerSync *syncprim.ManagerSide
	allocator   *dsmalloc.Allocator
	liveness    *directory.LivenessMonitor
	httpSrv     *http.Server
}

// Init brings up this node: starts its data-plane listener, registers
// with the manager (or, if this node is the manager, stands up the
// control plane other nodes register against), and blocks until the
// membership list confirms every expected peer has joined.
func Init(ctx context.Context, cfg Config) (*DSM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prefix := "node"
	if cfg.IsManager {
		prefix = "manager"
	}
	logger := dsmlog.New(fmt.Sprintf("%s[%d]", prefix, cfg.NodeID), dsmlog.ParseLevel(cfg.LogLevel))

	self := transport.NodeID(cfg.NodeID)
	d := &DSM{
		cfg:      cfg,
		self:     self,
		log:      logger,
		tr:       transport.NewTCPTransport(self),
		members:  newMemberCache(),
		table:    pagetable.New(),
		stats:    dsmstats.New(),
		vmSource: vm.NewDefaultSource(),
		regions:  make(map[uint64]vm.Region),
		handlers: make(map[uint64]*traphandler.Handler),
	}

	dataAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	controlAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Port+1)

	// manager_host (spec §6) names the manager's data-plane address; its
	// control plane always lives one port above, the same data/control
	// split every node (including the manager itself) follows.
	var managerDataAddr, managerControlAddr string
	if cfg.IsManager {
		managerDataAddr, managerControlAddr = dataAddr, controlAddr
		if err := d.startManager(ctx, controlAddr, dataAddr); err != nil {
			return nil, err
		}
	} else {
		var err error
		managerDataAddr = cfg.ManagerHost
		managerControlAddr, err = bumpPort(cfg.ManagerHost, 1)
		if err != nil {
			return nil, dsmerr.Config("manager_host %q: %v", cfg.ManagerHost, err)
		}
	}

	d.allocSvc = dsmalloc.NewClient(managerControlAddr)
	d.node = protocol.NewNode(self, managerDataAddr, d.tr, d.table, d.members, logger, d.stats)
	d.syncClient = syncprim.NewClient(self, managerDataAddr, d.tr)

	if err := d.tr.Listen(ctx, dataAddr, d.dispatch); err != nil {
		return nil, dsmerr.Transport(err, "listen on data address %s", dataAddr)
	}

	resp, err := d.register(ctx, dataAddr, controlAddr, managerControlAddr)
	if err != nil {
		return nil, err
	}
	d.members.Update(resp.Members)
	for len(d.members.addr) < cfg.NumNodes {
		select {
		case <-ctx.Done():
			return nil, dsmerr.Transport(ctx.Err(), "waiting for %d nodes to join", cfg.NumNodes)
		case <-time.After(50 * time.Millisecond):
		}
		var members []cluster.NodeInfo
		if d.registry != nil {
			members = d.registry.Members()
		} else if err := cluster.GetJSON(ctx, "http://"+managerControlAddr+"/cluster/members", &members); err != nil {
			return nil, dsmerr.Transport(err, "fetch members from %s", managerControlAddr)
		}
		d.members.Update(members)
	}

	d.log.Infof("initialized: self=%d data=%s num_nodes=%d manager=%v", self, dataAddr, cfg.NumNodes, cfg.IsManager)
	return d, nil
}

// startManager constructs the manager-only collaborators (directory,
// allocator, coherence FSM, sync primitives, liveness monitor) and the
// control-plane HTTP server other nodes register and call alloc/free
// against.
func (d *DSM) startManager(ctx context.Context, controlAddr, dataAddr string) error {
	d.registry = cluster.NewRegistry(d.cfg.NumNodes)
	d.dir = directory.New()
	d.allocator = dsmalloc.New(d.cfg.PageSize)
	d.manager = protocol.NewManager(d.self, d.dir, d.members, d.allocator, d.tr, d.log, d.stats)
	d.managerSync = syncprim.NewManagerSide(d.cfg.NumNodes, d.members, d.tr, d.log)

	d.liveness = directory.NewLivenessMonitor(2 * time.Second)
	d.liveness.SetOnGone(func(node transport.NodeID) {
		d.registry.SetStatus(uint32(node), "unhealthy")
		d.manager.NodeGone(node)
	})
	go d.liveness.Start(ctx, func() []directory.NodeRef {
		var refs []directory.NodeRef
		for _, m := range d.registry.Members() {
			if m.DataAddr == "" {
				continue
			}
			refs = append(refs, directory.NodeRef{ID: transport.NodeID(m.Index), Addr: m.Addr})
		}
		return refs
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/cluster/register", d.registry.RegisterHandler)
	mux.HandleFunc("/cluster/members", d.registry.MembersHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/debug/dsmprof", statsprofile.Handler(d.stats))
	dsmalloc.NewService(d.allocator).RegisterHandlers(mux)

	d.httpSrv = &http.Server{Addr: controlAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Errorf("control plane listener: %v", err)
		}
	}()
	return nil
}

func (d *DSM) register(ctx context.Context, dataAddr, controlAddr, managerAddr string) (cluster.RegisterResponse, error) {
	info := cluster.NodeInfo{
		ID:       fmt.Sprintf("node-%d", d.cfg.NodeID),
		Index:    uint32(d.cfg.NodeID),
		Addr:     controlAddr,
		DataAddr: dataAddr,
	}
	if d.cfg.IsManager {
		return d.registry.Register(info), nil
	}
	var resp cluster.RegisterResponse
	url := fmt.Sprintf("http://%s/cluster/register", managerAddr)
	if err := cluster.PostJSON(ctx, url, cluster.RegisterRequest{Node: info}, &resp); err != nil {
		return cluster.RegisterResponse{}, dsmerr.Transport(err, "register with manager at %s", managerAddr)
	}
	return resp, nil
}

// dispatch routes an inbound message to whichever collaborator owns its
// message type. The manager's own node (self-participation) receives
// both the protocol.Manager and protocol.Node branches.
func (d *DSM) dispatch(from transport.NodeID, msg transport.Message) {
	switch msg.Type {
	case transport.MsgReadReq, transport.MsgWriteReq, transport.MsgGone:
		if d.manager != nil {
			d.manager.HandleMessage(from, msg)
			return
		}
		d.log.Warnf("received manager-only message %s on a non-manager node", msg.Type)
	case transport.MsgInvAck, transport.MsgAck:
		if d.manager != nil {
			d.manager.HandleMessage(from, msg)
		}
	case transport.MsgPageData, transport.MsgInvalidate, transport.MsgForwardRead, transport.MsgForwardWrite:
		d.node.HandleMessage(from, msg)
	case transport.MsgBarrierEnter, transport.MsgLockReq, transport.MsgLockRel:
		if d.managerSync != nil {
			d.managerSync.HandleMessage(from, msg)
		}
	case transport.MsgBarrierRelease, transport.MsgLockGrant:
		d.syncClient.HandleMessage(from, msg)
	default:
		d.log.Warnf("unrecognized message %s from node %d", msg.Type, from)
	}
}

// bumpPort returns "host:port+delta" for an "host:port" address, used to
// derive a node's control-plane address from the data-plane address it
// advertises (or vice versa) without carrying both in config.
func bumpPort(hostport string, delta int) (string, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("non-numeric port %q: %w", portStr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+delta)), nil
}

func (d *DSM) checkLive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finalized {
		return dsmerr.Shutdown()
	}
	return nil
}
