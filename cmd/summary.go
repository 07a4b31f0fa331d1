package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/intervue/moodline/internal/store"
	"github.com/intervue/moodline/internal/types"
	"github.com/intervue/moodline/internal/utils"
	"github.com/spf13/cobra"
)

var summaryJSON bool

var summaryCmd = &cobra.Command{
	Use:   "summary <session-id>",
	Short: "Show the emotion distribution recorded for a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSummary(cmd, args[0])
	},
}

func init() {
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, sessionID string) {
	ctx := cmd.Context()
	db, err := openStore(ctx, true)
	if err != nil {
		utils.Die("Failed to open database", err, nil)
	}

	sum, err := db.SessionSummary(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		fmt.Printf("No samples recorded for session %s.\n", sessionID)
		return
	}
	if err != nil {
		utils.Die("Failed to load session summary", err, nil)
	}

	if summaryJSON {
		if err := json.NewEncoder(os.Stdout).Encode(sum); err != nil {
			utils.Die("Failed to write summary", err, nil)
		}
		return
	}
	printSummary(sum)
}

func printSummary(sum types.SessionSummary) {
	fmt.Printf("Session %s: %d samples, %d with a face\n\n", sum.SessionID, sum.Samples, sum.WithFace)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EMOTION\tCOUNT\tSHARE\t")
	fmt.Fprintln(w, "-------\t-----\t-----\t")
	for _, e := range sum.Emotions {
		share := 0.0
		if sum.WithFace > 0 {
			share = float64(e.Count) / float64(sum.WithFace)
		}
		fmt.Fprintf(w, "%s\t%d\t%5.1f%%\t%s\n", e.Emotion, e.Count, share*100, strings.Repeat("█", int(share*20)))
	}
	w.Flush()
}
