package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"snapsight/internal/infra/config"
)

func newEncryptSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt-secret",
		Short: "Encrypt a value for use as an enc: config secret",
		Long: `Reads the plaintext from stdin and prints "enc:<ciphertext>".
The passphrase comes from SNAPSIGHT_CONFIG_KEY; set the same variable when
running serve so the value can be decrypted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrase := os.Getenv("SNAPSIGHT_CONFIG_KEY")
			if passphrase == "" {
				return fmt.Errorf("SNAPSIGHT_CONFIG_KEY is not set")
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read plaintext: %w", err)
			}
			plaintext := strings.TrimRight(line, "\r\n")
			if plaintext == "" {
				return fmt.Errorf("plaintext is empty")
			}

			enc, err := config.EncryptValue(plaintext, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return nil
		},
	}
}
