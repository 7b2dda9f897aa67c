package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/senchpimy/image-ocr/internal/client"
	"github.com/spf13/cobra"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <image_path>...",
	Short: "Send images to a running server and print the JSON responses",
	Long: "Sends every image over one connection, in order. A single image prints the raw response; " +
		"several images print one JSON line per image with its file name.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSend(cmd.Context(), args, os.Stdout)
	},
}

func init() {
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 5*time.Minute, "Deadline for each image (0 waits forever)")
	rootCmd.AddCommand(sendCmd)
}

// sendLine is one output record when several images are sent.
type sendLine struct {
	File     string          `json:"file"`
	Response json.RawMessage `json:"response"`
}

func runSend(ctx context.Context, paths []string, out io.Writer) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return reportError("Input file does not exist", err)
		}
		if info.IsDir() {
			err := fmt.Errorf("%s is a directory, expected an image file", p)
			return reportError("Invalid input", err)
		}
	}

	c, err := client.Dial(ctx, cfg.SocketPath)
	if err != nil {
		return reportError("Failed to connect to the server", err)
	}
	defer c.Close()

	var bar *progressbar.ProgressBar
	if len(paths) > 1 {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("🔍 Recognizing"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
	}

	rejected := 0
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return reportError("Failed to read image file", err)
		}

		resp, err := sendOne(ctx, c, data)
		if err != nil {
			return reportError(fmt.Sprintf("Request for %s failed", p), err)
		}
		if isErrorReply(resp) {
			rejected++
		}

		if bar == nil {
			fmt.Fprintln(out, string(resp))
		} else {
			enc.Encode(sendLine{File: p, Response: resp})
			bar.Add(1)
		}
	}

	if rejected > 0 {
		return fmt.Errorf("%d of %d images were rejected", rejected, len(paths))
	}
	return nil
}

func sendOne(ctx context.Context, c *client.Client, data []byte) (json.RawMessage, error) {
	if sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sendTimeout)
		defer cancel()
	}
	return c.RecognizeRaw(ctx, data)
}

// isErrorReply reports whether resp is an {"error": ...} object.
func isErrorReply(resp json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(resp, &obj); err != nil {
		return false
	}
	_, ok := obj["error"]
	return ok && len(obj) == 1
}
