package maple

import (
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
	dbtesting "github.com/ValentinKolb/mvkv/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVEngineTests(t, "MapleDB", func() db.KVEngine {
		return NewMapleDB(nil)
	})
}

func TestSingleShard(t *testing.T) {
	dbtesting.RunKVEngineTests(t, "MapleDB(1 shard)", func() db.KVEngine {
		return NewMapleDB(&DBOptions{NumShards: 1})
	})
}

func Benchmark(t *testing.B) {
	dbtesting.RunKVEngineBenchmarks(t, "MapleDB", func() db.KVEngine {
		return NewMapleDB(nil)
	})
}
