package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// pumpEvents consumes the event channel and writes one ndjson envelope per
// event, flushing each one. It races every receive against ctx so a timeout
// or client disconnect stops consumption immediately; the producer sees the
// same ctx and winds down on its own.
//
// A failure event before the first envelope is translated normally. After
// envelopes have been flushed the status line is gone, so the stream is
// truncated and the failure logged and counted instead.
func (g *Gateway) pumpEvents(ctx context.Context, w http.ResponseWriter, r *http.Request, events <-chan DiscoveryEvent, allowNotFound bool) {
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	wrote := false

	for {
		select {
		case <-ctx.Done():
			g.stats.StreamsCancelled.Inc()
			return
		case ev, ok := <-events:
			if !ok {
				if !wrote {
					w.Header().Set("Content-Type", ndjsonContentType)
					w.WriteHeader(http.StatusOK)
				}
				return
			}
			if ev.Kind == EventError {
				if wrote {
					g.stats.StreamsTruncated.Inc()
					logrus.WithFields(logrus.Fields{
						"reqid": requestID(r),
						"path":  r.URL.Path,
					}).Errorf("stream terminated mid-flight: %v", ev.Err)
					return
				}
				g.writeError(w, r, ev.Err, allowNotFound)
				return
			}
			if !wrote {
				w.Header().Set("Content-Type", ndjsonContentType)
				wrote = true
			}
			if err := enc.Encode(envelopeFor(ev)); err != nil {
				// client went away mid-write
				return
			}
			g.stats.Envelopes.Inc()
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

const ndjsonContentType = "application/x-ndjson"

func envelopeFor(ev DiscoveryEvent) WireEnvelope {
	switch ev.Kind {
	case EventProviderFound:
		return WireEnvelope{
			ID:        ev.Peer.ID.String(),
			Type:      TypeProvider,
			Responses: []PeerDescriptor{descriptor(ev.Peer)},
		}
	default:
		return WireEnvelope{ID: ev.Peer.ID.String(), Type: TypePeerResponse}
	}
}
