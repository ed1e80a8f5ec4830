package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/infragate/internal/domain/statement"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [statement]",
	Short: "Classify a statement as read-only or mutating",
	Long: `Classify a SQL statement without running it.

The statement is taken from the arguments, or from stdin when none are
given. The classification is printed as JSON. The exit status is 0 for a
read-only statement and 1 for a mutating one.

Examples:
  infragate classify "SELECT * FROM orders"
  echo "DELETE FROM orders" | infragate classify`,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	stmt := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read statement: %w", err)
		}
		stmt = string(data)
	}

	c := statement.Classify(stmt)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		statement.Classification
		Reason string `json:"reason"`
	}{c, c.Reason()}); err != nil {
		return err
	}
	if !c.IsRead() {
		cmd.SilenceErrors = true
		return errMutating
	}
	return nil
}

// errMutating makes the command exit non-zero without extra output.
var errMutating = errors.New("statement is mutating")
