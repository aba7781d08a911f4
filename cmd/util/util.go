package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ValentinKolb/mvkv/lib/db/engines"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
	"github.com/ValentinKolb/mvkv/rpc/common"
	"github.com/ValentinKolb/mvkv/rpc/serializer"
	"github.com/ValentinKolb/mvkv/rpc/transport"
	"github.com/ValentinKolb/mvkv/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cli")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and makes viper read MVKV_* variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("mvkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// RPC client helpers
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command, defaultShard int) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of one request"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the mvkv server. Multiple endpoints can be given as a comma-separated list, requests are spread round-robin"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Idle connections kept per endpoint"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a failed request"))

	key = "shard"
	cmd.PersistentFlags().Int(key, defaultShard, WrapString("ID of the shard to connect to"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("retries"),
		Endpoints:              strings.Split(viper.GetString("endpoints"), ","),
		ConnectionsPerEndpoint: viper.GetInt("conn-per-endpoint"),
	}
}

// GetSerializer creates the serializer named by the serializer flag
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetTransport creates the client transport
func GetTransport() transport.IRPCClientTransport {
	return http.NewHttpClientTransport()
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// --------------------------------------------------------------------------
// Local stores
// --------------------------------------------------------------------------

// SetupLocalStoreFlags adds the flags that locate a local data directory
func SetupLocalStoreFlags(cmd *cobra.Command) {
	key := "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory of the local multi-version store"))

	key = "engine"
	cmd.PersistentFlags().String(key, "badger", WrapString(fmt.Sprintf("Engine of the local store (%s)", strings.Join(engines.Names, ", "))))

	key = "device"
	cmd.PersistentFlags().String(key, "", WrapString("Device name of the local store, defaults to the hostname"))
}

// OpenLocalStore opens the multi-version store configured by the local
// store flags
func OpenLocalStore() (*mvstore.Store, error) {
	factory, err := engines.Opener(viper.GetString("engine"), viper.GetString("data-dir"))
	if err != nil {
		return nil, err
	}
	opts := mvstore.DefaultOptions()
	opts.Device = DeviceName(viper.GetString("device"))
	opts.OnCorruption = func(err error) {
		Logger.Errorf("local store is corrupted: %v", err)
	}
	return mvstore.Open(factory, opts)
}

// DeviceName returns name, or the hostname if name is empty
func DeviceName(name string) string {
	if name != "" {
		return name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
