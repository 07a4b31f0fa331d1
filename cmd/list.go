package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/intervue/moodline/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded interview sessions",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) {
	ctx := cmd.Context()
	db, err := openStore(ctx, true)
	if err != nil {
		utils.Die("Failed to open database", err, nil)
	}
	sessions, err := db.ListSessions(ctx)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSAMPLES\tSTARTED\tLAST SEEN")
	fmt.Fprintln(w, "-------\t-------\t-------\t---------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.ID, s.Samples,
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.LastSeen.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
