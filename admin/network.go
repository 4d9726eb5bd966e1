package admin

import (
	"github.com/splinter-dev/splinter/lifecycle"
	"github.com/splinter-dev/splinter/peering"
	"github.com/splinter-dev/splinter/proposal"
)

// Network is every outbound capability the admin service needs from the
// transport/peer-manager layer (spec §4.7, §4.8, §4.11, §6 wire
// messages). A single concrete adapter over the real peer manager and
// network sender satisfies all four; tests may satisfy them with
// independent fakes.
type Network interface {
	peering.Connector
	peering.ProtocolSender
	proposal.Broadcaster
	lifecycle.Broadcaster
}
