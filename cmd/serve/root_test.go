package serve

import (
	"testing"

	"github.com/ValentinKolb/mvkv/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShards(t *testing.T) {
	shards, err := parseShards("1=mv, 20 = lstore")
	require.NoError(t, err)
	assert.Equal(t, []common.ServerShard{
		{ShardID: 1, Type: common.ShardTypeMultiVersionIStore},
		{ShardID: 20, Type: common.ShardTypeLocalIStore},
	}, shards)

	for _, bad := range []string{"", "1", "x=mv", "1=dstore", "1=mv,1=lstore"} {
		_, err := parseShards(bad)
		assert.Error(t, err, bad)
	}
}
