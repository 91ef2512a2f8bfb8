package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sahasrahbot/sglbot/store"
)

func patchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patches",
		Short: "Manage pre-generated patch pools",
	}

	add := &cobra.Command{
		Use:   "add <pool> [file]",
		Short: "Load patch ids, one per line, from file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 2 {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			ids, err := readPatchIDs(in)
			if err != nil {
				return err
			}
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			n, err := store.NewPatchPool(database).Add(cmd.Context(), args[0], ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d of %d patches to %s\n", n, len(ids), args[0])
			return nil
		},
	}

	remaining := &cobra.Command{
		Use:   "remaining <pool>",
		Short: "Print how many unused patches are left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			n, err := store.NewPatchPool(database).Remaining(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n)
			return nil
		},
	}

	cmd.AddCommand(add, remaining)
	return cmd
}

// readPatchIDs skips blank lines and # comments.
func readPatchIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, sc.Err()
}
