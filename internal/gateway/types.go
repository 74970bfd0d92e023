package gateway

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/IceFireDB/IceFireDB-DHTGateway/pkg/repo"
)

// Wire envelope type codes. The numbering follows the routing query event
// codes DHT clients already understand: 2 is a resolved peer, 4 a content
// provider, 5 a record value. Routing table entries go out as 1.
const (
	TypePeerResponse = 1
	TypeFinalPeer    = 2
	TypeProvider     = 4
	TypeValue        = 5
)

// PeerDescriptor is the wire form of a discovered peer.
type PeerDescriptor struct {
	ID    string   `json:"ID"`
	Addrs []string `json:"Addrs"`
}

// WireEnvelope is the single response unit. Synchronous verbs return one
// envelope as the whole body; streaming verbs emit one JSON line per
// envelope. Exactly one Type per envelope, payload shape fixed by Type.
type WireEnvelope struct {
	ID        string           `json:"ID,omitempty"`
	Type      int              `json:"Type"`
	Responses []PeerDescriptor `json:"Responses,omitempty"`
	Extra     string           `json:"Extra,omitempty"`
}

// EventKind tags a DiscoveryEvent.
type EventKind int

const (
	EventProviderFound EventKind = iota
	EventRoutingEntry
	EventError
)

// DiscoveryEvent is one unit of engine output during a streaming operation.
// An EventError terminates the sequence; the producer closes the channel
// after sending it.
type DiscoveryEvent struct {
	Kind EventKind
	Peer peer.AddrInfo
	Err  error
}

// Engine is the peer-routing capability the gateway fronts. Streaming
// methods return a channel that is closed on completion; producers must
// honor ctx and stop emitting once it is done.
type Engine interface {
	FindPeer(ctx context.Context, id peer.ID) (peer.AddrInfo, error)
	FindProviders(ctx context.Context, c cid.Cid, count int) <-chan DiscoveryEvent
	GetValue(ctx context.Context, key string) ([]byte, error)
	PutValue(ctx context.Context, key string, value []byte) error
	Provide(ctx context.Context, c cid.Cid) error
	Query(ctx context.Context, id peer.ID) <-chan DiscoveryEvent
}

// ConfigRepo is the node configuration repository used by bootstrap reset.
type ConfigRepo interface {
	GetAll(ctx context.Context) (repo.Document, error)
	Replace(ctx context.Context, doc repo.Document) error
}

func descriptor(info peer.AddrInfo) PeerDescriptor {
	addrs := make([]string, 0, len(info.Addrs))
	for _, a := range info.Addrs {
		addrs = append(addrs, a.String())
	}
	return PeerDescriptor{ID: info.ID.String(), Addrs: addrs}
}
