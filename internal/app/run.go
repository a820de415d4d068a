// Package app wires the peer together: config, libp2p node, signaling
// adapter, call manager, and the local viewer API.
package app

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/parley-p2p/parley/internal/call"
	"github.com/parley-p2p/parley/internal/config"
	"github.com/parley-p2p/parley/internal/identity"
	"github.com/parley-p2p/parley/internal/media"
	"github.com/parley-p2p/parley/internal/p2p"
	"github.com/parley-p2p/parley/internal/proto"
	"github.com/parley-p2p/parley/internal/signal"
	"github.com/parley-p2p/parley/internal/state"
	"github.com/parley-p2p/parley/internal/util"
	"github.com/parley-p2p/parley/internal/viewer"
)

// Run starts a peer rooted at peerDir and blocks until ctx is canceled or
// the viewer server fails.
func Run(ctx context.Context, peerDir string) error {
	cfgPath := filepath.Join(peerDir, "parley.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		return err
	}
	if created {
		log.Printf("Created default config: %s", cfgPath)
	}

	// Runtime config. Hot reload swaps the whole struct; consumers read
	// through getCfg so profile edits take effect without restart.
	var cfgMu sync.RWMutex
	current := cfg
	getCfg := func() config.Config {
		cfgMu.RLock()
		defer cfgMu.RUnlock()
		return current
	}

	peers := state.NewPeerTable()

	mdnsTag := cfg.P2P.MdnsTag
	if mdnsTag == "" {
		mdnsTag = proto.MdnsTag
	}

	var node *p2p.Node
	self := identity.Source(func() identity.Descriptor {
		c := getCfg()
		return identity.Descriptor{
			ID:          node.ID(),
			DisplayName: c.Profile.DisplayName,
			Username:    c.Profile.Username,
			AvatarURL:   c.Profile.AvatarURL,
		}
	})
	videoDisabled := func() bool { return getCfg().Call.VideoDisabled }

	node, err = p2p.New(ctx,
		cfg.P2P.ListenPort,
		util.ResolvePath(peerDir, cfg.Identity.KeyFile),
		mdnsTag,
		peers,
		self,
		videoDisabled,
		time.Duration(cfg.Presence.TTLSec)*time.Second,
	)
	if err != nil {
		return err
	}
	defer node.Close()
	log.Printf("Peer ID: %s", node.ID())

	adapter := signal.New(node.CallRoom(), node.ID())

	var factory media.Factory
	switch cfg.Call.Mode {
	case config.ModeSimulated:
		log.Printf("Call mode: simulated (no media transport)")
		factory = media.NewSimFactory()
	default:
		factory = media.NewPionFactory(cfg.Call.STUNServers)
	}

	calls := call.NewManager(adapter, factory, self)
	calls.Start(ctx)

	node.RunPresenceLoop(ctx)
	node.Publish(ctx, proto.TypeOnline)

	// Profile edits re-announce presence so the roster updates everywhere.
	err = config.Watch(ctx, cfgPath, func(c config.Config) {
		cfgMu.Lock()
		current = c
		cfgMu.Unlock()
		node.Publish(ctx, proto.TypeUpdate)
	})
	if err != nil {
		log.Printf("CONFIG: watch disabled: %v", err)
	}

	go func() {
		heartbeat := time.NewTicker(time.Duration(cfg.Presence.HeartbeatSec) * time.Second)
		prune := time.NewTicker(5 * time.Second)
		defer heartbeat.Stop()
		defer prune.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				node.Publish(ctx, proto.TypeUpdate)
			case <-prune.C:
				ttl := time.Duration(getCfg().Presence.TTLSec) * time.Second
				peers.PruneOlderThan(time.Now().Add(-ttl))
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Start(cfg.Viewer.HTTPAddr, viewer.Viewer{
			Node:    node,
			Self:    self,
			Peers:   peers,
			Calls:   calls,
			Signals: adapter,
			CfgPath: cfgPath,
			Cfg:     getCfg,
		})
	}()

	select {
	case <-ctx.Done():
		// Best-effort goodbye so peers drop us before the TTL expires.
		offCtx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		node.Publish(offCtx, proto.TypeOffline)
		cancel()
		return nil
	case err := <-errCh:
		return err
	}
}
