package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func loadEvents(cmd *cobra.Command, path string) ([]event.Event, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var events []event.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode events from %s: %w", path, err)
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return events, nil
}

func loadPreviews(cmd *cobra.Command, path string) ([]event.Preview, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var previews []event.Preview
	if err := json.Unmarshal(data, &previews); err != nil {
		return nil, fmt.Errorf("decode previews from %s: %w", path, err)
	}
	return previews, nil
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(ts float64, loc *time.Location) string {
	return time.UnixMilli(int64(ts * 1000)).In(loc).Format("2006-01-02 15:04:05")
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
