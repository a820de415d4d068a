// Package viewer is the local HTTP surface: call intents and observable call
// state for a UI, plus the peer roster and signaling debug log. It binds to
// loopback by default; it is a control plane, not a public API.
package viewer

import (
	"log"
	"net/http"

	"github.com/parley-p2p/parley/internal/call"
	"github.com/parley-p2p/parley/internal/config"
	"github.com/parley-p2p/parley/internal/identity"
	"github.com/parley-p2p/parley/internal/p2p"
	"github.com/parley-p2p/parley/internal/signal"
	"github.com/parley-p2p/parley/internal/state"
)

type Viewer struct {
	Node    *p2p.Node
	Self    identity.Source
	Peers   *state.PeerTable
	Calls   *call.Manager
	Signals *signal.Adapter

	CfgPath string
	Cfg     func() config.Config
}

func Start(addr string, v Viewer) error {
	mux := http.NewServeMux()

	registerCall(mux, v)
	registerPeers(mux, v)
	registerSelf(mux, v)

	log.Printf("VIEWER: listening on http://%s", addr)
	return http.ListenAndServe(addr, mux)
}
