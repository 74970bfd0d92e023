package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceCIDDeterministic(t *testing.T) {
	a, err := serviceCID("dht_gateway_service")
	require.NoError(t, err)
	b, err := serviceCID("dht_gateway_service")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := serviceCID("another_service")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestBootstrapAddrInfos(t *testing.T) {
	infos := bootstrapAddrInfos([]string{
		"/ip4/10.0.0.1/tcp/4001/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N",
		"not a multiaddr",
		"/ip4/10.0.0.2/tcp/4001", // no peer id component
	})
	require.Len(t, infos, 1)
	assert.Equal(t, "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N", infos[0].ID.String())
}

func TestBootstrapAddrInfosDefault(t *testing.T) {
	infos := bootstrapAddrInfos(nil)
	assert.NotEmpty(t, infos)
}
