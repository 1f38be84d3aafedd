// Package root wires the mailcode CLI: one-shot script execution against
// connected mailbox accounts, plus account management.
package root

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inboxd/mailcode/pkg/config"
	"github.com/inboxd/mailcode/pkg/paths"
	"github.com/inboxd/mailcode/pkg/session"
)

var (
	debugMode  bool
	policyPath string
	dataDir    string
)

// NewRootCmd builds the mailcode command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mailcode",
		Short:        "Sandboxed script gateway for a remote mailbox API",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debugMode {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to the policy file (default: config dir)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the account database (default: data dir)")

	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newAccountsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func loadPolicy() (config.Policy, error) {
	path := policyPath
	if path == "" {
		path = filepath.Join(paths.GetConfigDir(), "policy.yaml")
	}
	return config.Load(path)
}

func openStore() (*session.SQLiteStore, error) {
	dir := dataDir
	if dir == "" {
		dir = paths.GetDataDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return session.NewSQLiteStore(filepath.Join(dir, "accounts.db"))
}
