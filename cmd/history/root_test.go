package history

import (
	"testing"

	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
	"github.com/stretchr/testify/assert"
)

func TestFormatCommit(t *testing.T) {
	c := &mvstore.Commit{
		ID:        []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02},
		Left:      []byte{0x01, 0x02, 0x03, 0x04, 0x05},
		Version:   7,
		Timestamp: 17_000_000_000_000_000, // 2023-11-14T22:13:20Z
		Local:     true,
		Device:    "laptop",
	}
	assert.Equal(t, "* deadbeef v7      laptop       2023-11-14T22:13:20Z <- 01020304 (HEAD)", formatCommit(c, true))

	c.Right = []byte{0xaa}
	c.Local = false
	assert.Equal(t, "M deadbeef v7      laptop       2023-11-14T22:13:20Z <- 01020304, aa (foreign)", formatCommit(c, false))
}
