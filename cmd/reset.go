package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/senchpimy/image-ocr/internal/server"
	"github.com/senchpimy/image-ocr/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetHistory bool
	resetSocket  bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (audit log, stale socket file)",
	Long:  "Clears persisted state. By default, it resets everything. Use flags to clear specific components.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetHistory && !resetSocket {
			resetHistory = true
			resetSocket = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetHistory {
			if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP the recognition history?") {
				if err := openDB(cmd.Context(), dbURL(true)); err != nil {
					utils.Die("Failed to open the audit log", err, nil)
				}
				fmt.Println("🗑️  Clearing recognition history...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetSocket {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Remove the socket file %s if no server is using it?", cfg.SocketPath)) {
				fmt.Println("🗑️  Removing stale socket...")
				removeSocket(cfg.SocketPath)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetHistory, "history", false, "Clear the PostgreSQL recognition history")
	resetCmd.Flags().BoolVar(&resetSocket, "socket-file", false, "Remove a stale socket file left by a crashed server")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeSocket deletes path unless a live server still answers on it.
func removeSocket(path string) {
	err := server.RemoveStale(path)
	switch {
	case errors.Is(err, server.ErrSocketInUse):
		fmt.Fprintf(os.Stderr, "⚠️  %s is in use by a running server, leaving it alone\n", path)
	case err != nil:
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
