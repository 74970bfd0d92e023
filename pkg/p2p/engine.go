package p2p

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/IceFireDB/IceFireDB-DHTGateway/internal/gateway"
)

// Engine adapts the kad-DHT to the gateway's engine contract. Streaming
// methods translate the DHT's lazy channels into discovery events; the
// channels close when the lookup completes or ctx fires.
type Engine struct {
	p2p *P2P
}

func NewEngine(p *P2P) *Engine {
	return &Engine{p2p: p}
}

func (e *Engine) FindPeer(ctx context.Context, id peer.ID) (peer.AddrInfo, error) {
	return e.p2p.KadDHT.FindPeer(ctx, id)
}

func (e *Engine) FindProviders(ctx context.Context, c cid.Cid, count int) <-chan gateway.DiscoveryEvent {
	out := make(chan gateway.DiscoveryEvent)
	go func() {
		defer close(out)
		for info := range e.p2p.KadDHT.FindProvidersAsync(ctx, c, count) {
			ev := gateway.DiscoveryEvent{Kind: gateway.EventProviderFound, Peer: info}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (e *Engine) GetValue(ctx context.Context, key string) ([]byte, error) {
	return e.p2p.KadDHT.GetValue(ctx, key)
}

func (e *Engine) PutValue(ctx context.Context, key string, value []byte) error {
	return e.p2p.KadDHT.PutValue(ctx, key, value)
}

func (e *Engine) Provide(ctx context.Context, c cid.Cid) error {
	return e.p2p.KadDHT.Provide(ctx, c, true)
}

func (e *Engine) Query(ctx context.Context, id peer.ID) <-chan gateway.DiscoveryEvent {
	out := make(chan gateway.DiscoveryEvent)
	go func() {
		defer close(out)
		peers, err := e.p2p.KadDHT.GetClosestPeers(ctx, string(id))
		if err != nil {
			select {
			case out <- gateway.DiscoveryEvent{Kind: gateway.EventError, Err: err}:
			case <-ctx.Done():
			}
			return
		}
		for _, p := range peers {
			ev := gateway.DiscoveryEvent{Kind: gateway.EventRoutingEntry, Peer: peer.AddrInfo{ID: p}}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
