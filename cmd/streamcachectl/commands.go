// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ManuGH/streamcache/internal/cacheindex"
	"github.com/ManuGH/streamcache/internal/hls"
	"github.com/ManuGH/streamcache/internal/keycodec"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// openIndex rebuilds an index of an existing root without creating it.
func openIndex(root string) (*cacheindex.Index, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact root %s is not a directory", root)
	}
	ix := cacheindex.New(root, cacheindex.Options{}, zerolog.Nop())
	if err := ix.Rebuild(); err != nil {
		return nil, err
	}
	return ix, nil
}

func formatSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(10 * time.Millisecond).String()
}

func newListCommand(root *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := openIndex(*root)
			if err != nil {
				return err
			}
			entries := ix.Entries()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No cached sources")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.SourceID, e.ArtifactDirID, formatSeconds(e.DurationSeconds)})
			}
			fmt.Fprintln(out, renderTable([]string{"Source", "Directory", "Duration"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func newInspectCommand(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect SOURCE",
		Short: "Show the cached rendition of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := openIndex(*root)
			if err != nil {
				return err
			}
			e, ok := ix.Lookup(args[0])
			if !ok {
				return fmt.Errorf("%s is not cached under %s", args[0], *root)
			}
			dir := ix.ArtifactDir(e.ArtifactDirID)
			info, err := hls.InspectFile(filepath.Join(dir, transcode.PlaylistName))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Source:    %s\n", e.SourceID)
			fmt.Fprintf(out, "Directory: %s\n", dir)
			fmt.Fprintf(out, "Duration:  %s (recorded)\n", formatSeconds(e.DurationSeconds))
			fmt.Fprintf(out, "Playlist:  %d segments, %s, ended=%t\n", len(info.Segments), info.TotalDuration, info.Ended)
			for _, name := range []string{transcode.AudioName, transcode.SubtitleName} {
				state := "missing"
				if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
					state = "present"
				} else if !errors.Is(err, fs.ErrNotExist) {
					state = err.Error()
				}
				fmt.Fprintf(out, "%-10s %s\n", name+":", state)
			}
			return nil
		},
	}
}

func newEncodeKeyCommand() *cobra.Command {
	var duration string
	cmd := &cobra.Command{
		Use:   "encode-key PATH",
		Short: "Print the artifact directory name of a source path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), keycodec.Encode(args[0]))
			if duration == "" {
				return nil
			}
			secs, err := strconv.ParseFloat(duration, 64)
			if err != nil {
				return fmt.Errorf("--duration: %w", err)
			}
			marker, err := keycodec.EncodeDuration(secs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), marker)
			return nil
		},
	}
	cmd.Flags().StringVar(&duration, "duration", "", "Also print the duration marker for these seconds")
	return cmd
}

func newDecodeKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode-key NAME",
		Short: "Decode an artifact directory or duration marker name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decoded, err := keycodec.Decode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), decoded)
			if secs, ok := keycodec.DecodeDuration(args[0]); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "duration: %s\n", formatSeconds(secs))
			}
			return nil
		},
	}
}
