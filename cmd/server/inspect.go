package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.wav>",
	Short: "Print the header fields of a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := audio.ReadFileInfo(args[0])
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", args[0], err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			return err
		}
		if !info.Finalized {
			fmt.Fprintln(os.Stderr, "warning: size fields were never patched, the recording did not stop cleanly")
		}
		return nil
	},
}
