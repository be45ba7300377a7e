package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jholhewres/wabot/pkg/wabot/config"
	"github.com/jholhewres/wabot/pkg/wabot/session"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the encrypted session string",
	}
	cmd.AddCommand(
		newSessionEncryptCmd(),
		newSessionDecryptCmd(),
		newSessionSetKeyCmd(),
	)
	return cmd
}

func newSessionEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [file]",
		Short: "Encrypt a credential JSON document into a session string",
		Long: `Read the credential JSON from file, or stdin when omitted, and print
the session string for the configured passphrase.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := sessionCodec(cmd)
			if err != nil {
				return err
			}

			var data []byte
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading credentials: %w", err)
			}

			var blob session.Blob
			if err := json.Unmarshal(data, &blob); err != nil {
				return fmt.Errorf("%w: %v", session.ErrInvalidSession, err)
			}
			if err := blob.Validate(); err != nil {
				return err
			}
			s, err := codec.Encrypt(&blob)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newSessionDecryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <session>",
		Short: "Print the credential JSON inside a session string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := sessionCodec(cmd)
			if err != nil {
				return err
			}
			blob, err := codec.Decrypt(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(blob, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newSessionSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the session passphrase in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pass, err := config.ReadPassword("Passphrase: ")
			if err != nil {
				return err
			}
			if pass == "" {
				return fmt.Errorf("empty passphrase")
			}
			if config.IsTerminal() {
				confirm, err := config.ReadPassword("Confirm: ")
				if err != nil {
					return err
				}
				if confirm != pass {
					return fmt.Errorf("passphrases do not match")
				}
			}
			if err := config.StorePassphrase(pass); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Passphrase stored in the keyring.")
			return nil
		},
	}
}

func sessionCodec(cmd *cobra.Command) (*session.Codec, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newCodec(cfg, newLogger(cmd, cfg, os.Stderr))
}
