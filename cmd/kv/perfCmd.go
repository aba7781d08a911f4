package kv

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/mvkv/cmd/util"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Load generator for mvkv servers",
		Long:    "Runs a fixed set of workloads against the shard and prints the throughput of each. All keys are written below the __perf prefix and removed afterwards.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 256
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             []string
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Workloads to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines issuing requests"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 256, util.WrapString("Value size of the put-large workload in KB. Values above the slice threshold are stored as deduplicated slices"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys every workload uses"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save the results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// --------------------------------------------------------------------------
// Workloads
// --------------------------------------------------------------------------

// workload is one benchmark. prefill writes every key before the timer
// starts, op is called with a running counter per goroutine.
type workload struct {
	name    string
	prefill bool
	op      func(key string, i int) error
}

func workloads() []workload {
	small := []byte("test")
	large := make([]byte, perfLargeValueSizeKB*1024)
	for i := range large {
		large[i] = byte(i % 251)
	}

	return []workload{
		{name: "put", op: func(k string, _ int) error { return rpcStore.Put(k, small) }},
		{name: "put-large", op: func(k string, _ int) error { return rpcStore.Put(k, large) }},
		{name: "get", prefill: true, op: func(k string, _ int) error { _, _, err := rpcStore.Get(k); return err }},
		{name: "has", prefill: true, op: func(k string, _ int) error { _, err := rpcStore.Has(k); return err }},
		{name: "has-not", op: func(k string, _ int) error { _, err := rpcStore.Has(k + "-missing"); return err }},
		{name: "entries", prefill: true, op: func(_ string, _ int) error {
			_, err := rpcStore.Entries(perfKeyPrefix + "/entries")
			return err
		}},
		{name: "mixed", prefill: true, op: func(k string, i int) error {
			var err error
			switch i % 4 {
			case 0:
				err = rpcStore.Put(k, small)
			case 1:
				_, _, err = rpcStore.Get(k)
			case 2:
				// a key deleted by another goroutine is fine
				if err = rpcStore.Delete(k); store.IsNotFound(err) {
					err = nil
				}
			case 3:
				_, err = rpcStore.Has(k)
			}
			return err
		}},
	}
}

// bench runs one workload, nil means it was skipped
func bench(w workload) *testing.BenchmarkResult {
	if slices.Contains(perfSkip, w.name) {
		return nil
	}

	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s/%s/%d", perfKeyPrefix, w.name, i)
	}
	if w.prefill {
		for _, k := range keys {
			if err := rpcStore.Put(k, []byte("test")); err != nil {
				util.Logger.Warningf("(%s) prefill %s: %v", w.name, k, err)
			}
		}
	}

	res := testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := w.op(keys[counter%len(keys)], counter); err != nil {
					util.Logger.Warningf("(%s) %v", w.name, err)
				}
				counter++
			}
		})
	})

	entries, err := rpcStore.Entries(fmt.Sprintf("%s/%s/", perfKeyPrefix, w.name))
	if err != nil {
		util.Logger.Warningf("(%s) cleanup: %v", w.name, err)
	}
	for _, e := range entries {
		if err := rpcStore.Delete(e.Key); err != nil {
			util.Logger.Warningf("(%s) cleanup %s: %v", w.name, e.Key, err)
		}
	}
	return &res
}

func runPerf(_ *cobra.Command, _ []string) error {
	config := util.GetClientConfig()

	fmt.Println("Load generator for mvkv servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	results := make(map[string]*testing.BenchmarkResult)
	var order []string
	for _, w := range workloads() {
		res := bench(w)
		results[w.name] = res
		order = append(order, w.name)
		printResult(w.name, res)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, order, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// opsPerSec returns ns/op and ops/sec of a result
func opsPerSec(result *testing.BenchmarkResult) (float64, float64) {
	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	return nsPerOp, 1e9 / nsPerOp
}

// printResult prints the result of a workload in a formatted way
func printResult(test string, result *testing.BenchmarkResult) {
	if result == nil {
		fmt.Printf("%-20sskipped\n", test)
		return
	}
	nsPerOp, ops := opsPerSec(result)
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), ops)
}

// writeResultsToCSV writes the results, one row per workload
func writeResultsToCSV(csvPath string, order []string, results map[string]*testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetClientConfig()
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ShardID", "Serializer",
		"Threads", "LargeValueSizeKB", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range order {
		row := []string{test, "0", "0s", "0", "true"}
		if res := results[test]; res != nil {
			nsPerOp, ops := opsPerSec(res)
			row = []string{test, fmt.Sprintf("%.0f", nsPerOp), time.Duration(nsPerOp).String(), fmt.Sprintf("%.0f", ops), "false"}
		}
		row = append(row,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		)
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
