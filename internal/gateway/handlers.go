package gateway

import (
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

func queryValues(r *http.Request) url.Values {
	vals := r.URL.Query()
	if err := r.ParseForm(); err == nil {
		for k, vs := range r.PostForm {
			if _, ok := vals[k]; !ok {
				vals[k] = vs
			}
		}
	}
	return vals
}

func decodePeerID(p Params, name string) (peer.ID, error) {
	id, err := peer.Decode(p.String(name))
	if err != nil {
		return "", validationErr(name, "%v", err)
	}
	return id, nil
}

func decodeCid(p Params) (cid.Cid, error) {
	c, err := cid.Decode(p.String("cid"))
	if err != nil {
		return cid.Undef, validationErr("cid", "%v", err)
	}
	return c, nil
}

func (g *Gateway) handleFindPeer(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(opFindPeer, queryValues(r))
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	id, err := decodePeerID(p, "peerId")
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	ctx, cancel := g.opContext(r, p)
	defer cancel()

	info, err := g.engine.FindPeer(ctx, id)
	if err != nil {
		g.writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, WireEnvelope{
		ID:        info.ID.String(),
		Type:      TypeFinalPeer,
		Responses: []PeerDescriptor{descriptor(info)},
	})
}

func (g *Gateway) handleFindProvs(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(opFindProvs, queryValues(r))
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	c, err := decodeCid(p)
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	ctx, cancel := g.opContext(r, p)
	defer cancel()

	events := g.engine.FindProviders(ctx, c, p.Int("numProviders"))
	g.pumpEvents(ctx, w, r, events, false)
}

func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(opGet, queryValues(r))
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	ctx, cancel := g.opContext(r, p)
	defer cancel()

	val, err := g.engine.GetValue(ctx, string(p.Bytes("key")))
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, WireEnvelope{
		Type:  TypeValue,
		Extra: base64.StdEncoding.EncodeToString(val),
	})
}

// Put and provide are fire-and-forget once dispatched: cancellation after
// the engine call starts does not guarantee the record was not written.
func (g *Gateway) handlePut(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(opPut, queryValues(r))
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	ctx, cancel := g.opContext(r, p)
	defer cancel()

	if err := g.engine.PutValue(ctx, string(p.Bytes("key")), p.Bytes("value")); err != nil {
		g.writeError(w, r, err, false)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) handleProvide(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(opProvide, queryValues(r))
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	c, err := decodeCid(p)
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	ctx, cancel := g.opContext(r, p)
	defer cancel()

	if err := g.engine.Provide(ctx, c); err != nil {
		g.writeError(w, r, err, false)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(opQuery, queryValues(r))
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	id, err := decodePeerID(p, "peerId")
	if err != nil {
		g.writeError(w, r, err, false)
		return
	}
	ctx, cancel := g.opContext(r, p)
	defer cancel()

	events := g.engine.Query(ctx, id)
	g.pumpEvents(ctx, w, r, events, false)
}
