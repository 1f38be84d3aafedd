package root

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/inboxd/mailcode/pkg/session"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage connected mailbox accounts",
	}

	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsAddCmd())
	cmd.AddCommand(newAccountsRemoveCmd())

	return cmd
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			accounts, err := store.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Println("No accounts connected.")
				return nil
			}
			for _, a := range accounts {
				label := a.Label
				if label == "" {
					label = "-"
				}
				fmt.Printf("%s\t%s\t%s\n", a.ID, a.Email, label)
			}
			return nil
		},
	}
}

type addAccountFlags struct {
	email        string
	label        string
	accessToken  string
	refreshToken string
	clientID     string
	clientSecret string
}

func newAccountsAddCmd() *cobra.Command {
	var flags addAccountFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an account with credentials obtained elsewhere",
		Long: `Register a mailbox account using credentials from a completed
authorization flow. The gateway does not run the authorization itself; it
only keeps the resulting tokens fresh.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			account := &session.Account{
				ID:           uuid.NewString(),
				Email:        flags.email,
				Label:        flags.label,
				AccessToken:  flags.accessToken,
				RefreshToken: flags.refreshToken,
				ClientID:     flags.clientID,
				ClientSecret: flags.clientSecret,
			}
			if err := store.AddAccount(cmd.Context(), account); err != nil {
				return fmt.Errorf("saving account: %w", err)
			}
			fmt.Printf("Connected %s (%s)\n", account.Email, account.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.email, "email", "", "Account email address")
	cmd.Flags().StringVar(&flags.label, "label", "", "Optional short label (e.g. work)")
	cmd.Flags().StringVar(&flags.accessToken, "access-token", "", "Current access token")
	cmd.Flags().StringVar(&flags.refreshToken, "refresh-token", "", "Refresh token, if one was issued")
	cmd.Flags().StringVar(&flags.clientID, "client-id", "", "OAuth client ID")
	cmd.Flags().StringVar(&flags.clientSecret, "client-secret", "", "OAuth client secret")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("access-token")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("client-secret")

	return cmd
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Disconnect an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Account disconnected.")
			return nil
		},
	}
}
