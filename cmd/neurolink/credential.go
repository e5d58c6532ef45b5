package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/neurolink/internal/credential"
)

func newCredentialCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the API key stored in the OS keychain",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [KEY]",
			Short: "Store the API key (read from stdin when KEY is omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var key string
				if len(args) == 1 {
					key = args[0]
				} else {
					fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
					line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					if err != nil && line == "" {
						return fmt.Errorf("read key: %w", err)
					}
					key = strings.TrimSpace(line)
				}
				if err := credential.Store(key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in the keychain.\n", credential.Mask(key))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the API key from the keychain",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := credential.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Keychain entry removed.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show where the API key would be taken from",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				key, src, err := credential.Resolve(c.cfg.Providers.Live.APIKey)
				if errors.Is(err, credential.ErrMissing) {
					fmt.Fprintln(cmd.OutOrStdout(), "No API key configured.")
					return nil
				} else if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (from %s)\n", credential.Mask(key), src)
				return nil
			},
		},
	)
	return cmd
}
