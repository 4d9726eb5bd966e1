package admin

import (
	"errors"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splinter-dev/splinter/authz"
	"github.com/splinter-dev/splinter/event"
	"github.com/splinter-dev/splinter/lifecycle"
	"github.com/splinter-dev/splinter/orchestrator"
	"github.com/splinter-dev/splinter/payload"
	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/peering"
	"github.com/splinter-dev/splinter/proposal"
	"github.com/splinter-dev/splinter/ready"
	"github.com/splinter-dev/splinter/routing"
	"github.com/splinter-dev/splinter/store"
)

// ErrMissingField is wrapped by Build when a required collaborator was
// never supplied.
var ErrMissingField = errors.New("admin: missing required builder field")

// Builder assembles an AdminService from its required collaborators. It
// accumulates the first error encountered, so With* calls can be chained
// without checking each return value.
type Builder struct {
	cfg Config
	err error

	adminStore        store.AdminStore
	routingTable      routing.Writer
	orch              orchestrator.Orchestrator
	keyVerifier       authz.KeyVerifier
	permissionManager authz.KeyPermissionManager
	signer            authz.SignatureVerifier
	network           Network
	registry          *prometheus.Registry
	logger            log.Logger

	coordinatorTimeoutSet bool
}

// NewBuilder starts a Builder from DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) WithNodeID(nodeID string) *Builder {
	if b.err == nil {
		b.cfg.NodeID = nodeID
	}
	return b
}

func (b *Builder) WithPublicKeys(keys [][]byte) *Builder {
	if b.err == nil {
		b.cfg.PublicKeys = keys
	}
	return b
}

func (b *Builder) WithCoordinatorTimeout(d time.Duration) *Builder {
	if b.err == nil {
		b.cfg.CoordinatorTimeout = d
		b.coordinatorTimeoutSet = true
	}
	return b
}

func (b *Builder) WithCircuitProtocolVersion(v uint32) *Builder {
	if b.err == nil {
		b.cfg.CircuitProtocolVersion = v
	}
	return b
}

func (b *Builder) WithDefaultHoldPeerSecs(secs uint64) *Builder {
	if b.err == nil {
		b.cfg.DefaultHoldPeerSecs = secs
	}
	return b
}

func (b *Builder) WithAdminServiceStore(s store.AdminStore) *Builder {
	if b.err == nil {
		b.adminStore = s
	}
	return b
}

func (b *Builder) WithRoutingTableWriter(w routing.Writer) *Builder {
	if b.err == nil {
		b.routingTable = w
	}
	return b
}

func (b *Builder) WithServiceOrchestrator(o orchestrator.Orchestrator) *Builder {
	if b.err == nil {
		b.orch = o
	}
	return b
}

func (b *Builder) WithAdminKeyVerifier(v authz.KeyVerifier) *Builder {
	if b.err == nil {
		b.keyVerifier = v
	}
	return b
}

func (b *Builder) WithKeyPermissionManager(m authz.KeyPermissionManager) *Builder {
	if b.err == nil {
		b.permissionManager = m
	}
	return b
}

func (b *Builder) WithSignatureVerifier(v authz.SignatureVerifier) *Builder {
	if b.err == nil {
		b.signer = v
	}
	return b
}

func (b *Builder) WithPeerManagerConnector(n Network) *Builder {
	if b.err == nil {
		b.network = n
	}
	return b
}

func (b *Builder) WithMetricsRegistry(reg *prometheus.Registry) *Builder {
	if b.err == nil {
		b.registry = reg
	}
	return b
}

func (b *Builder) WithLogger(l log.Logger) *Builder {
	if b.err == nil {
		b.logger = l
	}
	return b
}

// Build validates every required field is set and assembles the full
// component graph: peering gate, proposal coordinator, member-ready
// synchronizer, event mailbox, payload validator, and lifecycle actions,
// all sharing one AdminService-level exclusive lock (spec §5).
func (b *Builder) Build() (*AdminService, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.cfg.NodeID == "" {
		return nil, missing("node_id")
	}
	if b.adminStore == nil {
		return nil, missing("admin_service_store")
	}
	if b.routingTable == nil {
		return nil, missing("routing_table_writer")
	}
	if b.orch == nil {
		return nil, missing("service_orchestrator")
	}
	if b.keyVerifier == nil {
		return nil, missing("admin_key_verifier")
	}
	if b.permissionManager == nil {
		return nil, missing("key_permission_manager")
	}
	if b.signer == nil {
		return nil, missing("signature_verifier")
	}
	if b.network == nil {
		return nil, missing("peer_manager_connector")
	}
	if !b.coordinatorTimeoutSet {
		return nil, missing("coordinator_timeout")
	}

	registry := b.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	counters, err := event.NewCounters(registry)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = log.NewNoOpLogger()
	}

	localToken := peer.TokenPair{Remote: peer.Trust(b.cfg.NodeID)}

	mailbox := event.NewMailbox(b.adminStore, counters)
	gate := peering.New(b.network, b.network)
	gate.SetHoldDuration(b.cfg.holdPeerDuration())
	rdy := ready.New(b.cfg.NodeID, b.orch, b.routingTable, mailbox, gate.ReleasePeerRefs)
	coordinator := proposal.New(b.cfg.NodeID, localToken, b.adminStore, b.routingTable, gate, rdy, mailbox, b.network, counters)
	validator := payload.NewValidator(
		payload.Config{LocalNodeID: b.cfg.NodeID, CircuitProtocolVersion: b.cfg.CircuitProtocolVersion},
		b.adminStore, b.keyVerifier, b.permissionManager, b.signer,
	)
	actions := lifecycle.New(b.cfg.NodeID, validator, b.adminStore, b.routingTable, b.orch, mailbox, b.network, gate.ReleasePeerRefs, counters)

	return &AdminService{
		cfg:         b.cfg,
		logger:      logger,
		registry:    registry,
		store:       b.adminStore,
		routing:     b.routingTable,
		orch:        b.orch,
		gate:        gate,
		coordinator: coordinator,
		ready:       rdy,
		mailbox:     mailbox,
		validator:   validator,
		lifecycle:   actions,
		state:       StateNotRunning,
	}, nil
}

func missing(field string) error {
	return &builderError{field: field}
}

type builderError struct{ field string }

func (e *builderError) Error() string { return "admin: missing required field " + e.field }
func (e *builderError) Unwrap() error { return ErrMissingField }
