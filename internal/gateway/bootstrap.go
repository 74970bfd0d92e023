package gateway

import (
	"net/http"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// DefaultBootstrapAddresses is the built-in bootstrap peer set written back
// by a reset. Immutable after process start.
var DefaultBootstrapAddresses = []string{
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmbLHAnMoJPWSCR5Zhtx6BHJX9KiKNN6tpvbUcqanj75Nb",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmcZf59bWwK5XFi76CZX8cbJ4BhTzzA3gU1ZjYZcYW3dwt",
	"/ip4/104.131.131.82/tcp/4001/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ",
	"/ip4/104.131.131.82/udp/4001/quic-v1/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ",
}

const bootstrapField = "Bootstrap"

var (
	defaultPeersOnce sync.Once
	defaultPeers     []PeerDescriptor
)

// DefaultBootstrapPeers returns the default addresses parsed into structured
// form, grouped by peer id in first-seen order. Parsed once; the addresses
// are compiled in, so a parse failure is a programmer error.
func DefaultBootstrapPeers() []PeerDescriptor {
	defaultPeersOnce.Do(func() {
		index := make(map[string]int)
		for _, s := range DefaultBootstrapAddresses {
			addr, err := ma.NewMultiaddr(s)
			if err != nil {
				panic("bad default bootstrap address " + s + ": " + err.Error())
			}
			info, err := peer.AddrInfoFromP2pAddr(addr)
			if err != nil {
				panic("bad default bootstrap address " + s + ": " + err.Error())
			}
			d := descriptor(*info)
			if i, ok := index[d.ID]; ok {
				defaultPeers[i].Addrs = append(defaultPeers[i].Addrs, d.Addrs...)
				continue
			}
			index[d.ID] = len(defaultPeers)
			defaultPeers = append(defaultPeers, d)
		}
	})
	return defaultPeers
}

type bootstrapOutput struct {
	Peers []PeerDescriptor `json:"Peers"`
}

// handleBootstrapReset overwrites the Bootstrap field of the persisted
// configuration with the default list and reports the resulting peers. The
// document is replaced whole: read-then-replace, last-writer-wins, no
// optimistic check.
func (g *Gateway) handleBootstrapReset(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(opBootstrap, queryValues(r))
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	ctx, cancel := g.opContext(r, p)
	defer cancel()

	doc, err := g.repo.GetAll(ctx)
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	doc[bootstrapField] = append([]string(nil), DefaultBootstrapAddresses...)
	if err := g.repo.Replace(ctx, doc); err != nil {
		g.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, bootstrapOutput{Peers: DefaultBootstrapPeers()})
}
