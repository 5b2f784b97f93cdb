// Command relic is the engine's command line: an interactive shell, a
// WAL inspector and a micro benchmark. Configuration comes from the
// environment (RELIC_ prefix) and a .env file, the same way the engine
// reads it when embedded.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/relicdb/relic/cmd/relic/shell"
	"github.com/relicdb/relic/internal/config"
	"github.com/relicdb/relic/internal/engine"
	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/wal"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "relic",
	Short: "relic MVCC storage engine",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := config.Load("RELIC_", cfg); err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (overrides RELIC_DATADIR)")

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive shell on a local data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := engine.Open(cfg)
			if err != nil {
				return err
			}
			defer eng.Close()
			return shell.New(eng, os.Stdout).Run()
		},
	}

	waldumpCmd := &cobra.Command{
		Use:   "waldump",
		Short: "Print every write-ahead log record in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return dumpWAL(cmd.OutOrStdout(), cfg)
		},
	}

	rootCmd.AddCommand(shellCmd, waldumpCmd, newBenchCmd())
}

func dumpWAL(w io.Writer, cfg *config.Config) error {
	walDir := cfg.WAL.Dir
	if !filepath.IsAbs(walDir) {
		walDir = filepath.Join(cfg.DataDir, walDir)
	}
	base := filepath.Join(walDir, "relic.wal")

	rec := wal.NewRecovery(base, logger.New(os.Stderr, logger.LevelError, "[waldump]"))
	scan, err := rec.Scan()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d records, last lsn %d, %d committed transactions\n",
		scan.Records, scan.LastLSN, len(scan.Committed))

	return rec.Replay(func(r *wal.Record) error {
		state := "uncommitted"
		if _, ok := scan.Committed[r.TxID]; ok {
			state = "committed"
		}
		switch r.Op {
		case wal.OpCommit:
			fmt.Fprintf(w, "%8d  tx %-6d %s\n", r.LSN, r.TxID, r.Op)
		case wal.OpInsert, wal.OpDelete:
			fmt.Fprintf(w, "%8d  tx %-6d %-12s obj %d loc %d seq %d payload %dB (%s)\n",
				r.LSN, r.TxID, r.Op, r.Object, r.Location, r.Seq, len(r.Payload), state)
		default:
			fmt.Fprintf(w, "%8d  tx %-6d %-12s obj %d %s (%s)\n",
				r.LSN, r.TxID, r.Op, r.Object, r.Payload, state)
		}
		return nil
	})
}
