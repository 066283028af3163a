package notify

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	logpkg "github.com/rzbill/pollbus/pkg/log"
)

// GossipMaxPayload leaves headroom under gossipsub's default 1 MiB message cap.
const GossipMaxPayload = 1<<20 - 4096

// GossipOptions configures the libp2p transport.
type GossipOptions struct {
	// ListenAddrs are multiaddrs; defaults to /ip4/0.0.0.0/tcp/0.
	ListenAddrs []string
	// Bootstrap peers, as full /p2p/ multiaddrs, dialled on start.
	Bootstrap []string
	// Rendezvous is the mDNS service tag.
	Rendezvous      string
	EnableMDNS      bool
	IdentityKeyFile string
	Logger          logpkg.Logger
}

// Gossip publishes notifications over a libp2p gossipsub mesh. Payloads a
// process publishes are also delivered to its own subscriptions.
type Gossip struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger logpkg.Logger

	host host.Host
	ps   *pubsub.PubSub
	mdns mdns.Service

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

var _ Transport = (*Gossip)(nil)

func NewGossip(parent context.Context, opts GossipOptions) (*Gossip, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	logger = logger.WithComponent("notify.gossip")

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("notify: invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, err := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		if err != nil {
			return nil, err
		}
		listenAddrs = append(listenAddrs, a)
	}

	hostOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			return nil, fmt.Errorf("notify: identity key: %w", err)
		}
		hostOpts = append(hostOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("notify: create host: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("notify: create gossipsub: %w", err)
	}

	g := &Gossip{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		host:   h,
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
	}

	if opts.EnableMDNS {
		rendezvous := opts.Rendezvous
		if rendezvous == "" {
			rendezvous = "pollbus"
		}
		g.mdns = mdns.NewMdnsService(h, rendezvous, &mdnsNotifee{host: h, logger: logger})
		if err := g.mdns.Start(); err != nil {
			logger.Warn("mdns start failed", logpkg.Err(err))
		}
	}

	for _, raw := range opts.Bootstrap {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			logger.Warn("skip bootstrap addr", logpkg.Str("addr", raw), logpkg.Err(err))
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logger.Warn("skip bootstrap addr", logpkg.Str("addr", raw), logpkg.Err(err))
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warn("bootstrap connect failed", logpkg.Str("peer", info.ID.String()), logpkg.Err(err))
			continue
		}
		logger.Info("connected bootstrap peer", logpkg.Str("peer", info.ID.String()))
	}

	return g, nil
}

func (g *Gossip) Publish(ctx context.Context, topic string, payload []byte) error {
	if len(payload) > GossipMaxPayload {
		return fmt.Errorf("notify: payload too large for gossip (%d > %d)", len(payload), GossipMaxPayload)
	}
	t, err := g.topic(topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, payload)
}

func (g *Gossip) Subscribe(_ context.Context, topic string) (Subscription, error) {
	t, err := g.topic(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, err
	}
	return &gossipSub{parent: g, sub: sub}, nil
}

func (g *Gossip) MaxPayload() int { return GossipMaxPayload }

func (g *Gossip) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	for _, t := range g.topics {
		_ = t.Close()
	}
	g.mu.Unlock()

	g.cancel()
	if g.mdns != nil {
		_ = g.mdns.Close()
	}
	return g.host.Close()
}

// PeerID returns this node's libp2p identity.
func (g *Gossip) PeerID() string {
	return g.host.ID().String()
}

// ListenAddrs returns dialable /p2p/ multiaddrs for this node, suitable as
// another node's Bootstrap entries.
func (g *Gossip) ListenAddrs() []string {
	out := make([]string, 0, len(g.host.Addrs()))
	for _, addr := range g.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr, g.host.ID()))
	}
	return out
}

// ConnectedPeers lists the peer ids this node is connected to.
func (g *Gossip) ConnectedPeers() []string {
	peers := g.host.Network().Peers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

// TopicPeers lists mesh peers subscribed to topic.
func (g *Gossip) TopicPeers(topic string) []string {
	t, err := g.topic(topic)
	if err != nil {
		return nil
	}
	peers := t.ListPeers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

func (g *Gossip) topic(name string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.ps.Join(name)
	if err != nil {
		return nil, err
	}
	g.topics[name] = t
	return t, nil
}

type gossipSub struct {
	parent *Gossip
	sub    *pubsub.Subscription
	once   sync.Once
}

func (s *gossipSub) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrClosed
	}
	return msg.Data, nil
}

func (s *gossipSub) Ping(context.Context) error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	if s.parent.closed {
		return ErrClosed
	}
	return nil
}

func (s *gossipSub) Close() error {
	s.once.Do(s.sub.Cancel)
	return nil
}

type mdnsNotifee struct {
	host   host.Host
	logger logpkg.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.logger.Debug("mdns connect failed", logpkg.Str("peer", info.ID.String()), logpkg.Err(err))
	}
}

func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
