package serve

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	cmdUtil "github.com/ValentinKolb/mvkv/cmd/util"
	"github.com/ValentinKolb/mvkv/lib/db/engines"
	"github.com/ValentinKolb/mvkv/rpc/common"
	"github.com/ValentinKolb/mvkv/rpc/server"
	"github.com/ValentinKolb/mvkv/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the mvkv server",
		Long:    `Start the mvkv server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is MVKV_<flag> (e.g. MVKV_VACUUM_INTERVAL=1m)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "shards"
	ServeCmd.Flags().String(key, "1=mv,2=lstore", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: mv (multi-version store), lstore (local store)"))

	key = "engine"
	ServeCmd.Flags().String(key, "badger", cmdUtil.WrapString(fmt.Sprintf("Engine every shard runs on (%s). maple keeps all data in memory", strings.Join(engines.Names, ", "))))

	key = "data-dir"
	ServeCmd.Flags().String(key, "data", cmdUtil.WrapString("Directory below which every shard gets its own directory (ignored for maple)"))

	key = "device"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Device name written into the commits of multi-version shards, defaults to the hostname"))

	key = "vacuum-interval"
	ServeCmd.Flags().Duration(key, time.Minute, cmdUtil.WrapString("How often the vacuum of multi-version shards runs without a write triggering it (0 disables the timer)"))

	key = "compress-slices"
	ServeCmd.Flags().Bool(key, false, cmdUtil.WrapString("Store the slices of large values zstd compressed"))

	key = "endpoint"
	ServeCmd.Flags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	serveCmdConfig.Engine = common.EngineType(strings.ToLower(viper.GetString("engine")))
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.Device = cmdUtil.DeviceName(viper.GetString("device"))
	serveCmdConfig.VacuumInterval = viper.GetDuration("vacuum-interval")
	serveCmdConfig.CompressSlices = viper.GetBool("compress-slices")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if _, err := engines.Opener(string(serveCmdConfig.Engine), serveCmdConfig.DataDir); err != nil {
		return err
	}
	return nil
}

// parseShards parses a list of ID=TYPE pairs
func parseShards(list string) ([]common.ServerShard, error) {
	var shards []common.ServerShard
	seen := make(map[uint64]bool)
	for _, shardConfig := range strings.Split(list, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}
		if seen[shardID] {
			return nil, fmt.Errorf("shard ID %d is used twice", shardID)
		}
		seen[shardID] = true

		var shardType common.ServerShardType
		switch strings.TrimSpace(parts[1]) {
		case "mv":
			shardType = common.ShardTypeMultiVersionIStore
		case "lstore":
			shardType = common.ShardTypeLocalIStore
		default:
			return nil, fmt.Errorf("invalid shard type: %s (expected one of: mv, lstore)", parts[1])
		}

		shards = append(shards, common.ServerShard{ShardID: shardID, Type: shardType})
	}
	return shards, nil
}

// run starts the server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		s,
	)

	ctx, stop := cmdUtil.SignalContext()
	defer stop()

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		cmdUtil.Logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		done <- serv.Shutdown(shutdownCtx)
	}()

	if err := serv.Serve(); err != nil {
		return err
	}
	return <-done
}
