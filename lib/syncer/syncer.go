package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("syncer")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Peer is the read side of a store commits are pulled from
type Peer interface {
	// LatestCommits returns the newest reachable commit per device
	LatestCommits(ctx context.Context) (map[string]*mvstore.Commit, error)
	// CommitTree returns the reachable commits not covered by knownTips,
	// lowest version first. knownTips maps a device to the id of the newest
	// commit of that device the caller has.
	CommitTree(ctx context.Context, knownTips map[string][]byte) ([]*mvstore.Commit, error)
	// CommitEntries returns the rows written by one commit
	CommitEntries(ctx context.Context, id []byte) ([]mvstore.CommitEntry, error)
}

// --------------------------------------------------------------------------
// Local Peer
// --------------------------------------------------------------------------

// NewLocalPeer serves a Peer from an in-process store
func NewLocalPeer(s *mvstore.Store) Peer {
	return &localPeer{s: s}
}

type localPeer struct {
	s *mvstore.Store
}

func (p *localPeer) LatestCommits(ctx context.Context) (map[string]*mvstore.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.s.GetLatestCommits()
}

func (p *localPeer) CommitTree(ctx context.Context, knownTips map[string][]byte) ([]*mvstore.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.s.GetCommitTree(knownTips)
}

func (p *localPeer) CommitEntries(ctx context.Context, id []byte) ([]mvstore.CommitEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.s.GetCommitEntries(id)
}

// --------------------------------------------------------------------------
// Pull
// --------------------------------------------------------------------------

// Result describes one Pull
type Result struct {
	Fetched int             // commits copied from the peer
	Skipped int             // commits the local store already had
	Merge   *mvstore.Commit // merge commit, nil if nothing had to be merged
	Took    time.Duration
}

// Cursors returns the newest commit id per device of s, the form CommitTree
// expects as knownTips
func Cursors(s *mvstore.Store) (map[string][]byte, error) {
	latest, err := s.GetLatestCommits()
	if err != nil {
		return nil, err
	}
	cursors := make(map[string][]byte, len(latest))
	for device, c := range latest {
		cursors[device] = c.ID
	}
	return cursors, nil
}

// Pull copies every commit of remote that local is missing and merges
// remote's tip into local. It is safe to repeat: a second Pull without new
// remote commits does nothing.
func Pull(ctx context.Context, local *mvstore.Store, remote Peer) (*Result, error) {
	start := time.Now()
	res := &Result{}

	cursors, err := Cursors(local)
	if err != nil {
		return nil, fmt.Errorf("read local cursors: %w", err)
	}
	tree, err := remote.CommitTree(ctx, cursors)
	if err != nil {
		return nil, fmt.Errorf("fetch commit tree: %w", err)
	}
	if len(tree) == 0 {
		log.Debugf("pull: %s is up to date", local.Device())
		return res, nil
	}
	tip := tree[len(tree)-1]

	// stored foreign commits are pending until the merge, keep vacuum off
	// the store until then
	local.PauseVacuum()
	defer local.ContinueVacuum()

	for _, c := range tree {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := local.CommitExists(c.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Skipped++
			continue
		}
		entries, err := remote.CommitEntries(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch entries of commit %x: %w", c.ID, err)
		}
		if err := local.PutCommitData(ctx, c, entries, tip.Device); err != nil {
			return nil, fmt.Errorf("store commit %x: %w", c.ID, err)
		}
		res.Fetched++
	}

	if res.Merge, err = local.MergeSyncCommit(ctx, tip, tree); err != nil {
		return nil, fmt.Errorf("merge %x: %w", tip.ID, err)
	}
	res.Took = time.Since(start)

	if res.Merge != nil {
		log.Infof("pull: %s merged %d commits of %s into version %d (%s)",
			local.Device(), res.Fetched, tip.Device, res.Merge.Version, res.Took)
	} else {
		log.Infof("pull: %s stored %d commits of %s, no merge needed", local.Device(), res.Fetched, tip.Device)
	}
	return res, nil
}

// Exchange pulls a into b and b into a. Afterwards both stores hold the
// same key-value state.
func Exchange(ctx context.Context, a, b *mvstore.Store) error {
	if _, err := Pull(ctx, a, NewLocalPeer(b)); err != nil {
		return fmt.Errorf("pull %s into %s: %w", b.Device(), a.Device(), err)
	}
	if _, err := Pull(ctx, b, NewLocalPeer(a)); err != nil {
		return fmt.Errorf("pull %s into %s: %w", a.Device(), b.Device(), err)
	}
	return nil
}

// Behind returns the devices whose newest commit on remote is unknown to
// local, sorted by name
func Behind(ctx context.Context, local *mvstore.Store, remote Peer) ([]string, error) {
	latest, err := remote.LatestCommits(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for device, c := range latest {
		ok, err := local.CommitExists(c.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, device)
		}
	}
	sort.Strings(out)
	return out, nil
}
