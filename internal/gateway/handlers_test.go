package gateway

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/core/test"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPeerID = "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"
	testCid    = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
)

type mockEngine struct {
	findPeer  func(context.Context, peer.ID) (peer.AddrInfo, error)
	findProvs func(context.Context, cid.Cid, int) <-chan DiscoveryEvent
	getValue  func(context.Context, string) ([]byte, error)
	putValue  func(context.Context, string, []byte) error
	provide   func(context.Context, cid.Cid) error
	query     func(context.Context, peer.ID) <-chan DiscoveryEvent

	putCalls     atomic.Int64
	provideCalls atomic.Int64
}

func (m *mockEngine) FindPeer(ctx context.Context, id peer.ID) (peer.AddrInfo, error) {
	if m.findPeer == nil {
		return peer.AddrInfo{}, routing.ErrNotFound
	}
	return m.findPeer(ctx, id)
}

func (m *mockEngine) FindProviders(ctx context.Context, c cid.Cid, count int) <-chan DiscoveryEvent {
	if m.findProvs == nil {
		return closedEvents()
	}
	return m.findProvs(ctx, c, count)
}

func (m *mockEngine) GetValue(ctx context.Context, key string) ([]byte, error) {
	if m.getValue == nil {
		return nil, errors.New("no value")
	}
	return m.getValue(ctx, key)
}

func (m *mockEngine) PutValue(ctx context.Context, key string, value []byte) error {
	m.putCalls.Add(1)
	if m.putValue == nil {
		return nil
	}
	return m.putValue(ctx, key, value)
}

func (m *mockEngine) Provide(ctx context.Context, c cid.Cid) error {
	m.provideCalls.Add(1)
	if m.provide == nil {
		return nil
	}
	return m.provide(ctx, c)
}

func (m *mockEngine) Query(ctx context.Context, id peer.ID) <-chan DiscoveryEvent {
	if m.query == nil {
		return closedEvents()
	}
	return m.query(ctx, id)
}

func closedEvents() <-chan DiscoveryEvent {
	ch := make(chan DiscoveryEvent)
	close(ch)
	return ch
}

func eventsFrom(evs ...DiscoveryEvent) func(context.Context, cid.Cid, int) <-chan DiscoveryEvent {
	return func(ctx context.Context, _ cid.Cid, _ int) <-chan DiscoveryEvent {
		ch := make(chan DiscoveryEvent, len(evs))
		for _, ev := range evs {
			ch <- ev
		}
		close(ch)
		return ch
	}
}

func newTestServer(t *testing.T, eng Engine, repo ConfigRepo) *httptest.Server {
	t.Helper()
	g := New(eng, repo, 0)
	r := chi.NewRouter()
	g.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func decodeEnvelopes(t *testing.T, body io.Reader) []WireEnvelope {
	t.Helper()
	var out []WireEnvelope
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var env WireEnvelope
		require.NoError(t, json.Unmarshal([]byte(line), &env))
		out = append(out, env)
	}
	require.NoError(t, sc.Err())
	return out
}

func providerEvent(t *testing.T) DiscoveryEvent {
	t.Helper()
	id, err := test.RandPeerID()
	require.NoError(t, err)
	addr := ma.StringCast("/ip4/127.0.0.1/tcp/4001")
	return DiscoveryEvent{
		Kind: EventProviderFound,
		Peer: peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{addr}},
	}
}

func TestFindPeerSuccess(t *testing.T) {
	addr1 := ma.StringCast("/ip4/10.0.0.7/tcp/4001")
	addr2 := ma.StringCast("/ip6/::1/tcp/4001")
	eng := &mockEngine{
		findPeer: func(_ context.Context, id peer.ID) (peer.AddrInfo, error) {
			return peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{addr1, addr2}}, nil
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findpeer?arg=" + testPeerID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	envs := decodeEnvelopes(t, resp.Body)
	require.Len(t, envs, 1)
	assert.Equal(t, TypeFinalPeer, envs[0].Type)
	require.Len(t, envs[0].Responses, 1)
	assert.Equal(t, testPeerID, envs[0].Responses[0].ID)
	assert.Equal(t, []string{addr1.String(), addr2.String()}, envs[0].Responses[0].Addrs)
}

func TestFindPeerNoAddresses(t *testing.T) {
	eng := &mockEngine{
		findPeer: func(_ context.Context, id peer.ID) (peer.AddrInfo, error) {
			return peer.AddrInfo{ID: id}, nil
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findpeer?arg=" + testPeerID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	envs := decodeEnvelopes(t, resp.Body)
	require.Len(t, envs, 1)
	assert.Empty(t, envs[0].Responses[0].Addrs)
}

func TestFindPeerLookupFailureIsNotFound(t *testing.T) {
	eng := &mockEngine{
		findPeer: func(context.Context, peer.ID) (peer.AddrInfo, error) {
			return peer.AddrInfo{}, routing.ErrNotFound
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findpeer?arg=" + testPeerID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFindPeerEngineFailureIsServerError(t *testing.T) {
	eng := &mockEngine{
		findPeer: func(context.Context, peer.ID) (peer.AddrInfo, error) {
			return peer.AddrInfo{}, errors.New("dial backoff exceeded")
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findpeer?arg=" + testPeerID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "dial backoff exceeded")
}

func TestFindPeerBadID(t *testing.T) {
	srv := newTestServer(t, &mockEngine{}, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findpeer?arg=not-a-peer-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "peerId")
}

func TestFindProvsStreamsAllInOrder(t *testing.T) {
	evs := []DiscoveryEvent{providerEvent(t), providerEvent(t), providerEvent(t)}
	eng := &mockEngine{findProvs: eventsFrom(evs...)}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findprovs?arg=" + testCid)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	envs := decodeEnvelopes(t, resp.Body)
	require.Len(t, envs, len(evs))
	for i, env := range envs {
		assert.Equal(t, TypeProvider, env.Type)
		assert.Equal(t, evs[i].Peer.ID.String(), env.ID)
		require.Len(t, env.Responses, 1)
		assert.Equal(t, evs[i].Peer.ID.String(), env.Responses[0].ID)
	}
}

func TestFindProvsEmptyStream(t *testing.T) {
	eng := &mockEngine{findProvs: eventsFrom()}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findprovs?arg=" + testCid)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestFindProvsBadCid(t *testing.T) {
	srv := newTestServer(t, &mockEngine{}, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findprovs?arg=definitely-not-a-cid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFindProvsCancelMidStream(t *testing.T) {
	const n = 2
	id, err := peer.Decode(testPeerID)
	require.NoError(t, err)
	addr := ma.StringCast("/ip4/127.0.0.1/tcp/4001")

	produced := make(chan int) // unbuffered, keeps the producer in lock-step
	halted := make(chan struct{})
	var emitted atomic.Int64

	eng := &mockEngine{
		findProvs: func(ctx context.Context, _ cid.Cid, _ int) <-chan DiscoveryEvent {
			out := make(chan DiscoveryEvent)
			go func() {
				defer close(out)
				defer close(halted)
				for i := 0; ; i++ {
					ev := DiscoveryEvent{
						Kind: EventProviderFound,
						Peer: peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{addr}},
					}
					select {
					case out <- ev:
						emitted.Add(1)
					case <-ctx.Done():
						return
					}
					select {
					case produced <- i:
					case <-ctx.Done():
						return
					}
				}
			}()
			return out
		},
	}

	g := New(eng, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v0/dht/findprovs?arg="+testCid, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.handleFindProvs(rec, req)
	}()

	for i := 0; i < n; i++ {
		<-produced
	}
	cancel()
	<-done
	<-halted

	envs := decodeEnvelopes(t, rec.Body)
	// one event may already be in flight when the signal fires
	assert.LessOrEqual(t, len(envs), n+1)
	assert.GreaterOrEqual(t, len(envs), n)
	assert.LessOrEqual(t, emitted.Load(), int64(n+1), "producer kept running after cancellation")
}

func TestStreamErrorBeforeFirstEnvelope(t *testing.T) {
	eng := &mockEngine{
		findProvs: eventsFrom(DiscoveryEvent{Kind: EventError, Err: errors.New("routing table empty")}),
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findprovs?arg=" + testCid)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "routing table empty")
}

func TestStreamErrorMidStreamTruncates(t *testing.T) {
	evs := []DiscoveryEvent{
		providerEvent(t),
		{Kind: EventError, Err: errors.New("query aborted")},
		providerEvent(t),
	}
	eng := &mockEngine{findProvs: eventsFrom(evs...)}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findprovs?arg=" + testCid)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	envs := decodeEnvelopes(t, resp.Body)
	require.Len(t, envs, 1)
	assert.Equal(t, TypeProvider, envs[0].Type)
}

func TestGetValue(t *testing.T) {
	value := []byte{0x00, 0x01, 0xfe, 0xff}
	eng := &mockEngine{
		getValue: func(_ context.Context, key string) ([]byte, error) {
			assert.Equal(t, "/ns/some-key", key)
			return value, nil
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/get?arg=" + "%2Fns%2Fsome-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	envs := decodeEnvelopes(t, resp.Body)
	require.Len(t, envs, 1)
	assert.Equal(t, TypeValue, envs[0].Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString(value), envs[0].Extra)
}

func TestPutRequiresExactlyTwoArgs(t *testing.T) {
	eng := &mockEngine{}
	srv := newTestServer(t, eng, nil)

	for _, q := range []string{
		"",
		"?arg=onlykey",
		"?arg=key&arg=value&arg=extra",
	} {
		resp, err := http.Post(srv.URL+"/api/v0/dht/put"+q, "", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", q)
	}
	assert.Zero(t, eng.putCalls.Load(), "engine must not be invoked on validation failure")
}

func TestPutOK(t *testing.T) {
	eng := &mockEngine{
		putValue: func(_ context.Context, key string, value []byte) error {
			assert.Equal(t, "the-key", key)
			assert.Equal(t, []byte("the-value"), value)
			return nil
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Post(srv.URL+"/api/v0/dht/put?arg=the-key&arg=the-value", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
	assert.EqualValues(t, 1, eng.putCalls.Load())
}

func TestProvide(t *testing.T) {
	eng := &mockEngine{}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Post(srv.URL+"/api/v0/dht/provide?arg="+testCid, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, eng.provideCalls.Load())

	resp, err = http.Post(srv.URL+"/api/v0/dht/provide?arg=nope", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.EqualValues(t, 1, eng.provideCalls.Load())
}

func TestQueryZeroResults(t *testing.T) {
	eng := &mockEngine{
		query: func(context.Context, peer.ID) <-chan DiscoveryEvent {
			return closedEvents()
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/query?arg=" + testPeerID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestQueryEmitsRoutingEntries(t *testing.T) {
	ids := make([]peer.ID, 3)
	for i := range ids {
		id, err := test.RandPeerID()
		require.NoError(t, err)
		ids[i] = id
	}
	eng := &mockEngine{
		query: func(context.Context, peer.ID) <-chan DiscoveryEvent {
			ch := make(chan DiscoveryEvent, len(ids))
			for _, id := range ids {
				ch <- DiscoveryEvent{Kind: EventRoutingEntry, Peer: peer.AddrInfo{ID: id}}
			}
			close(ch)
			return ch
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/query?arg=" + testPeerID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	envs := decodeEnvelopes(t, resp.Body)
	require.Len(t, envs, len(ids))
	for i, env := range envs {
		assert.Equal(t, TypePeerResponse, env.Type)
		assert.Equal(t, ids[i].String(), env.ID)
	}
}

func TestOperationTimeoutReachesEngine(t *testing.T) {
	eng := &mockEngine{
		findPeer: func(ctx context.Context, id peer.ID) (peer.AddrInfo, error) {
			<-ctx.Done()
			return peer.AddrInfo{}, fmt.Errorf("find peer: %w", ctx.Err())
		},
	}
	srv := newTestServer(t, eng, nil)

	resp, err := http.Get(srv.URL + "/api/v0/dht/findpeer?arg=" + testPeerID + "&timeout=10ms")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "deadline")
}
