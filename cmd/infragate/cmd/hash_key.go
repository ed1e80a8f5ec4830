package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
)

var hashKeyArgon2 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an API key",
	Long: `Generate a hash of an API key for use in config.

The default output format is "sha256:<hex>"; with --argon2id an Argon2id
PHC string is printed instead. Either can be used directly in the
auth.api_keys.key_hash field.

When no argument is given the key is read from the terminal without echo,
or from stdin when it is not a terminal. This keeps the key out of shell
history.

Example:
  infragate hash-key
  # Enter API key: ...
  # sha256:7d5e8c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := readKey(args)
		if err != nil {
			return err
		}
		if hashKeyArgon2 {
			hash, err := auth.HashKeyArgon2id(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sha256:%s\n", auth.HashKey(key))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2, "argon2id", false, "emit an Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}

func readKey(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Enter API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return nonEmptyKey(string(b))
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return nonEmptyKey(line)
}

func nonEmptyKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("api key must not be empty")
	}
	return s, nil
}
