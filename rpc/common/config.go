package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerShardType string

const (
	ShardTypeLocalIStore        ServerShardType = "local store"
	ShardTypeMultiVersionIStore ServerShardType = "multi-version store"
)

// EngineType selects the engine a shard's store runs on
type EngineType string

const (
	EngineMaple  EngineType = "maple"  // in memory
	EngineBadger EngineType = "badger" // on disk below DataDir
	EnginePebble EngineType = "pebble" // on disk below DataDir
)

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type is the store variant of the shard
	Type ServerShardType
}

// ServerConfig holds all configuration parameters of one server
type ServerConfig struct {
	Shards []ServerShard

	// Storage
	Engine  EngineType
	DataDir string

	// Multi-version store parameters
	Device         string
	VacuumInterval time.Duration
	CompressSlices bool

	// HTTP api settings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// HasMultiVersionShard checks if the configuration contains a multi-version shard
func (c *ServerConfig) HasMultiVersionShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeMultiVersionIStore {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Storage
	addSection("Storage")
	addField("Engine", string(c.Engine))
	if c.Engine != EngineMaple {
		addField("Data Directory", c.DataDir)
	}

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	if c.HasMultiVersionShard() {
		addSection("Multi-Version Stores")
		addField("Device", c.Device)
		addField("Vacuum Interval", c.VacuumInterval.String())
		addField("Compress Slices", strconv.FormatBool(c.CompressSlices))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
