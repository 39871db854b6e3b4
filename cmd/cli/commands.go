package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	var baseURL, user, shards string
	configureCmd := &cobra.Command{
		Use:   "configure",
		Short: "Set the API URL, identity and default shards",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if baseURL != "" {
				cfg.BaseURL = strings.TrimRight(baseURL, "/")
			}
			if user != "" {
				cfg.User = user
			}
			if cmd.Flags().Changed("shards") {
				cfg.Shards = splitShards(shards)
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved")
			return nil
		},
	}
	configureCmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL, e.g. http://localhost:3002")
	configureCmd.Flags().StringVar(&user, "user", "", "Identity sent to the API")
	configureCmd.Flags().StringVar(&shards, "shards", "", "Default comma-separated shard names")

	shardsCmd := &cobra.Command{
		Use:   "shards",
		Short: "List configured shards",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			list, err := NewClient(cfg).Shards()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCLUSTER")
			for _, s := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ID, s.Name, s.Cluster)
			}
			return tw.Flush()
		},
	}

	var queryShards, tableName string
	queryCmd := &cobra.Command{
		Use:   "query [SQL|-]",
		Short: "Run a query across shards and print the merged result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			sql, err := readSQL(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			res, err := NewClient(cfg).Query(sql, pickShards(queryShards, cfg), tableName)
			if err != nil {
				return err
			}
			return printQuery(cmd.OutOrStdout(), res)
		},
	}
	queryCmd.Flags().StringVar(&queryShards, "shards", "", "Comma-separated shard names (default from configure)")
	queryCmd.Flags().StringVar(&tableName, "table", "", "Also save the result to a warehouse table with this base name")

	var remoteShards string
	remoteCmd := &cobra.Command{
		Use:   "remote [SQL|-]",
		Short: "Start a background run that saves its result to the warehouse",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			sql, err := readSQL(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			msg, err := NewClient(cfg).Remote(sql, pickShards(remoteShards, cfg))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	remoteCmd.Flags().StringVar(&remoteShards, "shards", "", "Comma-separated shard names (default from configure)")

	runsCmd := &cobra.Command{
		Use:   "runs [ID]",
		Short: "Show remote runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			client := NewClient(cfg)
			var runs []Run
			if len(args) == 1 {
				run, err := client.Run(args[0])
				if err != nil {
					return err
				}
				runs = []Run{*run}
			} else if runs, err = client.Runs(); err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List stored query results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			results, err := NewClient(cfg).History(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTIFIER\tCREATED\tROWS\tSHARDS\tSQL")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Identifier, r.CreatedAt.Format("2006-01-02 15:04:05"),
					r.RowCount, strings.Join(r.Shards, ","), oneLine(r.SQL, 60))
			}
			return tw.Flush()
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", 20, "Maximum results to list")

	saveCmd := &cobra.Command{
		Use:   "save IDENTIFIER TABLE",
		Short: "Save a stored result into a warehouse table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			name, err := NewClient(cfg).SaveTable(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", name)
			return nil
		},
	}

	var outFile string
	downloadCmd := &cobra.Command{
		Use:   "download IDENTIFIER",
		Short: "Download a stored result as parquet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if outFile == "" {
				outFile = args[0] + ".parquet.gzip"
			}
			f, err := os.Create(outFile)
			if err != nil {
				return err
			}
			n, err := NewClient(cfg).Download(args[0], f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(outFile)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", n, outFile)
			return nil
		},
	}
	downloadCmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file")

	var shellShards string
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive SQL shell; statements end with ';'",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return runShell(NewClient(cfg), pickShards(shellShards, cfg), cmd.OutOrStdout())
		},
	}
	shellCmd.Flags().StringVar(&shellShards, "shards", "", "Comma-separated shard names (default from configure)")

	rootCmd.AddCommand(configureCmd, shardsCmd, queryCmd, remoteCmd, runsCmd, historyCmd, saveCmd, downloadCmd, shellCmd)
}

func splitShards(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func pickShards(flag string, cfg *Config) []string {
	if flag != "" {
		return splitShards(flag)
	}
	return cfg.Shards
}

func readSQL(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", fmt.Errorf("no SQL given")
	}
	return sql, nil
}

func printQuery(w io.Writer, res *QueryResponse) error {
	if res.Status == "empty" {
		fmt.Fprintf(w, "%s (%d of %d shards answered)\n", res.Message, res.ShardsSucceeded, res.ShardsResolved)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "(%d rows from %d of %d shards) id=%s\n", res.RowCount, res.ShardsSucceeded, res.ShardsResolved, res.Identifier)
	if res.TableName != nil {
		fmt.Fprintf(w, "saved to %s\n", *res.TableName)
	}
	return nil
}

func printRuns(w io.Writer, runs []Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tRUN ON\tTABLE\tERROR")
	for _, r := range runs {
		table, errText := "-", "-"
		if r.CreatedTable != nil {
			table = *r.CreatedTable
		}
		if r.Error != nil {
			errText = *r.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.RunOn.Format("2006-01-02 15:04:05"), table, errText)
	}
	return tw.Flush()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
