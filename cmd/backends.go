package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/senchpimy/image-ocr/internal/recognizer"
	"github.com/senchpimy/image-ocr/internal/recognizer/python"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the recognition backends compiled into this binary",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printBackends(os.Stdout, cfg.Backend)
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

var backendKinds = map[string]string{
	"noop":      "built-in (no recognition)",
	"tesseract": "in-process (gosseract)",
	"ollama":    "HTTP (local Ollama vision model)",
	"gemini":    "HTTPS (Google Gemini API)",
}

func printBackends(out io.Writer, selected string) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tSELECTED")
	fmt.Fprintln(w, "----\t----\t--------")
	for _, name := range recognizer.Names() {
		kind, ok := backendKinds[name]
		if !ok && slices.Contains(python.Models, name) {
			kind = "python worker"
		}
		mark := ""
		if name == selected {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, kind, mark)
	}
	w.Flush()
}
