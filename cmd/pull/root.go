package pull

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/mvkv/cmd/util"
	"github.com/ValentinKolb/mvkv/lib/syncer"
	"github.com/ValentinKolb/mvkv/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// SyncCmd pulls the commits of a remote shard into a local store
	SyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Pull the history of a remote multi-version shard into a local data directory",
		Long: `Pull every commit the local store is missing from a multi-version shard
of an mvkv server and merge them into the local history. Conflicting keys
are resolved last writer wins. Running sync twice without new remote
commits does nothing.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return util.BindCommandFlags(cmd) },
		RunE:    run,
	}
)

func init() {
	util.SetupRPCClientFlags(SyncCmd, 1)
	util.SetupLocalStoreFlags(SyncCmd)

	key := "check"
	SyncCmd.Flags().Bool(key, false, util.WrapString("Only print the devices the local store is behind on, do not pull"))
}

func run(_ *cobra.Command, _ []string) (err error) {
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	local, err := util.OpenLocalStore()
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer func() { err = errors.Join(err, local.Close()) }()

	peer, err := client.NewRPCPeer(util.GetShardID(), *util.GetClientConfig(), util.GetTransport(), s)
	if err != nil {
		return err
	}

	ctx, stop := util.SignalContext()
	defer stop()

	if viper.GetBool("check") {
		behind, err := syncer.Behind(ctx, local, peer)
		if err != nil {
			return err
		}
		if len(behind) == 0 {
			fmt.Println("up to date")
			return nil
		}
		fmt.Printf("behind on: %s\n", strings.Join(behind, ", "))
		return nil
	}

	res, err := syncer.Pull(ctx, local, peer)
	if err != nil {
		return err
	}
	fmt.Printf("fetched %d commits, skipped %d", res.Fetched, res.Skipped)
	if res.Merge != nil {
		fmt.Printf(", merged as version %d", res.Merge.Version)
	}
	fmt.Printf(" (%s)\n", res.Took)
	return nil
}
