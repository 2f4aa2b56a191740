package dsm

import (
	"os"
	"strconv"

	"github.com/dreamware/torua-dsm/internal/dsmerr"
)

// DefaultPageSize is used when Config.PageSize is left at zero. 4096
// matches the host page size on every platform this runs on.
const DefaultPageSize = 4096

// Config is the §6 Application API's config record: the knobs every node
// needs, whether or not it is the manager.
type Config struct {
	// NodeID is a non-negative integer, unique per node (spec §6's config
	// table). It is authoritative: this process registers under it
	// directly and reuses it as its transport.NodeID.
	NodeID int
	// Port is this node's TCP listen port for the data-plane transport.
	// The control-plane address is Port+1 (where the manager serves its
	// HTTP control plane).
	Port int
	// NumNodes is the total cluster size, including the manager.
	NumNodes int
	// IsManager marks exactly one node per cluster as the directory and
	// allocator host.
	IsManager bool
	// ManagerHost is "host:port" of the manager's data plane (the
	// manager's own Port); its control plane is one port above.
	// Required when IsManager is false.
	ManagerHost string
	// LogLevel is 0-4 (off/error/warn/info/debug), per spec §6.
	LogLevel int
	// PageSize overrides DefaultPageSize; must match every other node's.
	PageSize int
}

// LoadConfig reads Config from the environment, following the teacher's
// getenv pattern (cmd/coordinator/main.go's getenv(key, default)).
func LoadConfig() (Config, error) {
	cfg := Config{
		NodeID:      getenvInt("DSM_NODE_ID", 0),
		Port:        getenvInt("DSM_PORT", 7100),
		NumNodes:    getenvInt("DSM_NUM_NODES", 1),
		IsManager:   getenvBool("DSM_IS_MANAGER", false),
		ManagerHost: getenv("DSM_MANAGER_HOST", ""),
		LogLevel:    getenvInt("DSM_LOG_LEVEL", 2),
		PageSize:    getenvInt("DSM_PAGE_SIZE", DefaultPageSize),
	}
	return cfg, cfg.Validate()
}

// Validate checks the locally-knowable invariants from spec §6's config
// table. Cluster-wide invariants (exactly one manager, agreement on
// page_size) cannot be checked until registration and are the manager's
// responsibility to reject at that point.
func (c Config) Validate() error {
	if c.NodeID < 0 {
		return dsmerr.Config("node_id must be non-negative, got %d", c.NodeID)
	}
	if c.NumNodes < 1 {
		return dsmerr.Config("num_nodes must be >= 1, got %d", c.NumNodes)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return dsmerr.Config("port %d out of range", c.Port)
	}
	if !c.IsManager && c.ManagerHost == "" {
		return dsmerr.Config("manager_host is required when is_manager is false")
	}
	if c.LogLevel < 0 || c.LogLevel > 4 {
		return dsmerr.Config("log_level must be 0-4, got %d", c.LogLevel)
	}
	if c.PageSize <= 0 {
		return dsmerr.Config("page_size must be positive, got %d", c.PageSize)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
