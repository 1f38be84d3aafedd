package root

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/inboxd/mailcode/pkg/config"
	"github.com/inboxd/mailcode/pkg/gateway"
)

func newExecCmd() *cobra.Command {
	var intent string

	cmd := &cobra.Command{
		Use:   "exec [script-file]",
		Short: "Run one script against the connected mailbox accounts",
		Long: `Run one script through the sandbox gateway.

The script is an async function body with two functions in scope:
  read(path, account?)         GET against the mailbox API
  write(path, body, account?)  POST against the mailbox API

Reads from stdin when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readScript(args)
			if err != nil {
				return err
			}

			policy, err := loadPolicy()
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return fmt.Errorf("opening account store: %w", err)
			}
			defer store.Close()

			svc := gateway.New(store, config.NewProvider(policy), nil)
			result := svc.Execute(cmd.Context(), gateway.ExecutionRequest{
				Code:   code,
				Intent: intent,
			})

			if result.Failed() {
				g := result.Guidance()
				fmt.Fprintf(os.Stderr, "%s\n%s\n%s\n", g.Title, g.Detail, g.Hint)
				return fmt.Errorf("execution failed (%s)", result.Kind())
			}

			out, err := json.MarshalIndent(result.Value, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&intent, "intent", "", "Short description of what the script is for")

	return cmd
}

func readScript(args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading script: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading script from stdin: %w", err)
	}
	return string(data), nil
}
