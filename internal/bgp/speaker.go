package bgp

import (
	"net"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/rib"
)

// InstanceConfig is the speaker-wide identity the Instance orchestrator
// starts with (local AS, router-id, listen port).
type InstanceConfig struct {
	LocalAS    uint32
	RouterID   uint32
	ListenAddr string // e.g. ":179"
}

// Instance is the BGP speaker orchestrator: it owns the passive listener
// and the set of configured Peer actors, one accept loop shared across a
// multi-peer instance keyed by peer address.
type Instance struct {
	config InstanceConfig
	log    *zap.Logger
	rib    *RIB

	mu    sync.Mutex
	peers map[netip.Addr]*Peer

	listener net.Listener
	done     chan struct{}
}

// NewInstance constructs a speaker instance bound to the given central RIB.
func NewInstance(cfg InstanceConfig, centralRIB *rib.RIB, log *zap.Logger) *Instance {
	return &Instance{
		config: cfg,
		log:    log.With(zap.String("component", "bgp.speaker")),
		rib:    NewRIB(cfg.LocalAS, centralRIB, log),
		peers:  make(map[netip.Addr]*Peer),
		done:   make(chan struct{}),
	}
}

// AddPeer configures and starts a new peer actor.
func (in *Instance) AddPeer(cfg PeerConfig) *Peer {
	cfg.LocalAS = in.config.LocalAS
	cfg.RouterID = in.config.RouterID
	p := NewPeer(cfg, in.rib, in.log)
	in.mu.Lock()
	in.peers[cfg.Address] = p
	in.mu.Unlock()
	go p.Run()
	return p
}

// RemovePeer stops and forgets a configured peer.
func (in *Instance) RemovePeer(addr netip.Addr) {
	in.mu.Lock()
	p, ok := in.peers[addr]
	delete(in.peers, addr)
	in.mu.Unlock()
	if ok {
		p.Stop()
	}
}

// ListenAndServe opens the passive listener and dispatches inbound
// connections to the matching configured peer's collision-handling logic,
// which may keep a secondary connection alive while in OpenSent.
func (in *Instance) ListenAndServe() error {
	l, err := net.Listen("tcp", in.config.ListenAddr)
	if err != nil {
		return err
	}
	in.listener = l
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			in.dispatch(conn)
		}
	}()
	return nil
}

func (in *Instance) dispatch(conn net.Conn) {
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return
	}
	addr, ok := netip.AddrFromSlice(remote.IP)
	if !ok {
		conn.Close()
		return
	}
	addr = addr.Unmap()
	in.mu.Lock()
	p, ok := in.peers[addr]
	in.mu.Unlock()
	if !ok {
		in.log.Warn("rejecting connection from unconfigured peer", zap.String("addr", addr.String()))
		conn.Close()
		return
	}
	p.post(Event{Kind: EvConnected, Payload: conn})
}

// Close stops the listener and every configured peer.
func (in *Instance) Close() error {
	close(in.done)
	if in.listener != nil {
		in.listener.Close()
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, p := range in.peers {
		p.Stop()
	}
	return nil
}
