package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsawler/docworker/store"
)

func newRevisionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revisions",
		Short: "Manage saved revisions",
	}
	openStore := func() (*store.Store, error) {
		if a.cfg.Store.Path == "" {
			return nil, fmt.Errorf("no revision store configured (store.path)")
		}
		return store.Open(a.cfg.Store.Path)
	}

	list := &cobra.Command{
		Use:   "list [DOC_ID]",
		Short: "List revisions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			var docID string
			if len(args) == 1 {
				docID = args[0]
			}
			revs, err := st.List(cmd.Context(), docID)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), revs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDOC_ID\tSIZE\tSHA256\tCREATED")
			for _, r := range revs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.12s\t%s\n", r.ID, r.DocID, strconv.FormatInt(r.Size, 10), r.SHA256, r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	var out string
	get := &cobra.Command{
		Use:   "get ID",
		Short: "Write the bytes of a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			_, data, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	get.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Delete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(list, get, del)
	return cmd
}
