package p2p

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"

	"github.com/IceFireDB/IceFireDB-DHTGateway/pkg/config"
	"github.com/IceFireDB/IceFireDB-DHTGateway/utils"
)

// A structure that represents a P2P Host
type P2P struct {
	Ctx context.Context

	Host host.Host

	// Represents the DHT routing table
	KadDHT *dht.IpfsDHT

	// Represents the peer discovery service
	Discovery *drouting.RoutingDiscovery

	service string
}

// NewP2P constructs a libp2p host in DHT client mode, connects it to the
// bootstrap peers and returns the handle. The service name drives the
// optional rendezvous discovery.
func NewP2P(ctx context.Context, cfg config.P2PS) (*P2P, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/%s/tcp/%d", cfg.NodeHostIP, cfg.NodeHostPort),
		),
		libp2p.NATPortMap(),
	)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}
	logrus.Debugf("created p2p host %s", h.ID())

	kadDHT, err := dht.New(ctx, h, dht.Mode(dht.ModeClient))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create dht: %w", err)
	}
	if err := kadDHT.Bootstrap(ctx); err != nil {
		h.Close()
		return nil, fmt.Errorf("bootstrap dht: %w", err)
	}

	connectBootstrapPeers(ctx, h, bootstrapAddrInfos(cfg.Bootstrap))

	p := &P2P{
		Ctx:       ctx,
		Host:      h,
		KadDHT:    kadDHT,
		Discovery: drouting.NewRoutingDiscovery(kadDHT),
		service:   cfg.ServiceDiscoveryID,
	}

	switch cfg.ServiceDiscoverMode {
	case "advertise":
		p.AdvertiseConnect()
	case "announce":
		p.AnnounceConnect()
	}

	return p, nil
}

// bootstrapAddrInfos parses the configured bootstrap multiaddrs; with none
// configured the public DHT bootstrappers are used.
func bootstrapAddrInfos(addrs []string) []peer.AddrInfo {
	if len(addrs) == 0 {
		return dht.GetDefaultBootstrapPeerAddrInfos()
	}
	infos := make([]peer.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			logrus.Warnf("skip bootstrap address %q: %v", s, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logrus.Warnf("skip bootstrap address %q: %v", s, err)
			continue
		}
		infos = append(infos, *info)
	}
	return infos
}

func connectBootstrapPeers(ctx context.Context, h host.Host, peers []peer.AddrInfo) {
	for _, info := range peers {
		info := info
		utils.GoWithRecover(func() {
			bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
			err := backoff.Retry(func() error {
				return h.Connect(ctx, info)
			}, bo)
			if err != nil {
				logrus.Warnf("bootstrap peer %s unreachable: %v", info.ID, err)
				return
			}
			logrus.Debugf("connected bootstrap peer %s", info.ID)
		}, nil)
	}
}

// AdvertiseConnect announces the service rendezvous string on the DHT and
// connects to peers advertising the same.
func (p *P2P) AdvertiseConnect() {
	if p.service == "" {
		return
	}
	dutil.Advertise(p.Ctx, p.Discovery, p.service)

	peerchan, err := p.Discovery.FindPeers(p.Ctx, p.service)
	if err != nil {
		logrus.Warnf("service peer discovery failed: %v", err)
		return
	}
	utils.GoWithRecover(func() {
		p.handlePeerDiscovery(peerchan)
	}, nil)
}

// AnnounceConnect provides the service CID on the DHT and connects to other
// providers of the same CID.
func (p *P2P) AnnounceConnect() {
	if p.service == "" {
		return
	}
	c, err := serviceCID(p.service)
	if err != nil {
		logrus.Warnf("service cid: %v", err)
		return
	}
	if err := p.KadDHT.Provide(p.Ctx, c, true); err != nil {
		logrus.Warnf("service announce failed: %v", err)
	}
	peerchan := p.KadDHT.FindProvidersAsync(p.Ctx, c, 0)
	utils.GoWithRecover(func() {
		p.handlePeerDiscovery(peerchan)
	}, nil)
}

func (p *P2P) handlePeerDiscovery(peerchan <-chan peer.AddrInfo) {
	for info := range peerchan {
		if info.ID == p.Host.ID() || len(info.Addrs) == 0 {
			continue
		}
		if err := p.Host.Connect(p.Ctx, info); err != nil {
			logrus.Debugf("connect service peer %s: %v", info.ID, err)
		}
	}
}

// serviceCID hashes the service name into a V1 raw CID, the rendezvous key
// announced on the DHT.
func serviceCID(name string) (cid.Cid, error) {
	sum := sha256.Sum256([]byte(name))
	encoded, err := multihash.Encode(sum[:], multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, multihash.Multihash(encoded)), nil
}

func (p *P2P) Close() error {
	if err := p.KadDHT.Close(); err != nil {
		return err
	}
	return p.Host.Close()
}
