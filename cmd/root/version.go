package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inboxd/mailcode/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mailcode version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.Get())
			return nil
		},
	}
}
