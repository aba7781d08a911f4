// Package engines selects a db.KVEngine implementation by name.
package engines

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/db/engines/badger"
	"github.com/ValentinKolb/mvkv/lib/db/engines/maple"
	"github.com/ValentinKolb/mvkv/lib/db/engines/pebble"
)

// Names lists the accepted engine names
var Names = []string{string(db.ImplMaple), string(db.ImplBadger), string(db.ImplPebble)}

// Opener returns a factory for the engine called name. On-disk engines
// live in dir, which is created on first open. maple ignores dir.
func Opener(name, dir string) (func() (db.KVEngine, error), error) {
	switch db.Implementation(strings.ToLower(name)) {
	case db.ImplMaple:
		return func() (db.KVEngine, error) { return maple.NewMapleDB(nil), nil }, nil
	case db.ImplBadger:
		if dir == "" {
			return nil, fmt.Errorf("engine badger needs a data directory")
		}
		return func() (db.KVEngine, error) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			return badger.NewBadgerDB(badger.DefaultOptions(dir))
		}, nil
	case db.ImplPebble:
		if dir == "" {
			return nil, fmt.Errorf("engine pebble needs a data directory")
		}
		return func() (db.KVEngine, error) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			return pebble.NewPebbleDB(pebble.DefaultOptions(dir))
		}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q. must be one of %s", name, strings.Join(Names, ", "))
	}
}
