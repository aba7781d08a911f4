package history

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/mvkv/cmd/util"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// LogCmd prints the commit graph of a local store
	LogCmd = &cobra.Command{
		Use:     "log",
		Short:   "Print the commits of a local data directory, newest first",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return util.BindCommandFlags(cmd) },
		RunE:    run,
	}
)

func init() {
	util.SetupLocalStoreFlags(LogCmd)

	key := "limit"
	LogCmd.Flags().Int(key, 0, util.WrapString("Print at most this many commits (0 prints all)"))
	key = "only-device"
	LogCmd.Flags().String(key, "", util.WrapString("Only print the commits of this device"))
}

func run(_ *cobra.Command, _ []string) (err error) {
	s, err := util.OpenLocalStore()
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer func() { err = errors.Join(err, s.Close()) }()

	commits, err := s.GetAllCommitsInTree()
	if err != nil {
		return err
	}
	header, err := s.GetHeader()
	if err != nil {
		return err
	}

	limit, device := viper.GetInt("limit"), viper.GetString("only-device")
	printed := 0
	for _, c := range commits {
		if device != "" && c.Device != device {
			continue
		}
		if limit > 0 && printed == limit {
			break
		}
		fmt.Println(formatCommit(c, header != nil && string(header.ID) == string(c.ID)))
		printed++
	}
	return nil
}

// shortID is the first 8 hex characters of a commit id
func shortID(id []byte) string {
	s := hex.EncodeToString(id)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// formatCommit renders one commit as a single line
func formatCommit(c *mvstore.Commit, head bool) string {
	var sb strings.Builder
	marker := "*"
	if c.Right != nil {
		marker = "M"
	}
	fmt.Fprintf(&sb, "%s %s v%-6d %-12s %s", marker, shortID(c.ID), c.Version, c.Device,
		time.Unix(0, int64(c.Timestamp)*100).UTC().Format(time.RFC3339))

	var parents []string
	if c.Left != nil {
		parents = append(parents, shortID(c.Left))
	}
	if c.Right != nil {
		parents = append(parents, shortID(c.Right))
	}
	if len(parents) > 0 {
		fmt.Fprintf(&sb, " <- %s", strings.Join(parents, ", "))
	}
	if !c.Local {
		sb.WriteString(" (foreign)")
	}
	if head {
		sb.WriteString(" (HEAD)")
	}
	return sb.String()
}
