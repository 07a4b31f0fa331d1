package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/intervue/moodline/internal/store"
	"github.com/intervue/moodline/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetSession string
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete recorded emotion samples",
	Long:  "Drops all moodline tables. Use --session to delete a single session instead.",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openStore(cmd.Context(), true)
		if err != nil {
			utils.Die("Failed to open database", err, nil)
		}
		reader := bufio.NewReader(os.Stdin)

		if resetSession != "" {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Delete all samples of session %s?", resetSession)) {
				err := db.DeleteSession(cmd.Context(), resetSession)
				if errors.Is(err, store.ErrSessionNotFound) {
					fmt.Printf("Session %s not found.\n", resetSession)
					return
				}
				if err != nil {
					utils.Die("Failed to delete session", err, nil)
				}
				fmt.Printf("🗑️  Deleted session %s.\n", resetSession)
			}
			return
		}

		if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
			fmt.Println("🗑️  Clearing Database...")
			if err := db.Reset(cmd.Context()); err != nil {
				utils.Die("Failed to reset database", err, nil)
			}
			fmt.Println("✨ Reset Complete.")
		}
	},
}

func init() {
	resetCmd.Flags().StringVar(&resetSession, "session", "", "Delete only this session")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
