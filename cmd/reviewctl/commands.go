package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/camreview/internal/cards"
	"github.com/gyaneshwarpardhi/camreview/internal/event"
	"github.com/gyaneshwarpardhi/camreview/internal/filter"
	"github.com/gyaneshwarpardhi/camreview/internal/preview"
	"github.com/gyaneshwarpardhi/camreview/internal/scrubber"
	"github.com/gyaneshwarpardhi/camreview/internal/window"
)

func newHoursCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "hours FILE",
		Short: "Bucket events into hourly windows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := loadEvents(cmd, args[0])
			if err != nil {
				return err
			}
			tl := window.Bucket(events)
			if asJSON {
				return writeJSON(cmd, tl)
			}

			rows := make([][]string, 0, tl.Len())
			for _, k := range tl.Keys() {
				start, _ := window.ParseHourKey(k)
				bucket := tl.Hours[k]
				cams := make(map[string]struct{})
				for _, e := range bucket {
					cams[e.Camera] = struct{}{}
				}
				rows = append(rows, []string{k, formatTime(start, time.UTC), strconv.Itoa(len(bucket)), strconv.Itoa(len(cams))})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Hour", "Start (UTC)", "Events", "Cameras"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
			))
			fmt.Fprintf(out, "%d events across %d hours (duplicates dropped: %d)\n", tl.Count, tl.Len(), len(events)-tl.Count)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the hourly timeline as JSON")
	return cmd
}

func newCardsCommand() *cobra.Command {
	var (
		asJSON bool
		tz     string
		expr   string
	)

	cmd := &cobra.Command{
		Use:   "cards FILE",
		Short: "Group events into review cards, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("invalid --tz %q: %w", tz, err)
			}
			f, err := filter.Parse(expr)
			if err != nil {
				return fmt.Errorf("invalid --filter: %w", err)
			}
			events, err := loadEvents(cmd, args[0])
			if err != nil {
				return err
			}
			if events, err = filter.Apply(f, events); err != nil {
				return err
			}

			idx := cards.IndexByDay(cards.Group(events), loc)
			ordered := idx.Cards(cards.NewestFirst)
			if asJSON {
				return writeJSON(cmd, ordered)
			}

			rows := make([][]string, 0, len(ordered))
			for _, c := range ordered {
				rows = append(rows, []string{
					cards.DayKey(c.Time, loc),
					c.Camera,
					c.SourceID,
					formatTime(c.Time, loc),
					formatSeconds(c.End - c.Time),
					strings.Join(c.Labels, ","),
					strconv.Itoa(len(c.Entries)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Day", "Camera", "Source ID", "Start", "Duration (s)", "Labels", "Entries"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print cards as JSON")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "IANA timezone for day grouping")
	cmd.Flags().StringVar(&expr, "filter", "", `Filter expression, e.g. label == "person"`)
	return cmd
}

func newScrubberCommand() *cobra.Command {
	var (
		asJSON   bool
		sourceID string
	)

	cmd := &cobra.Command{
		Use:   "scrubber FILE",
		Short: "Project one tracked subject onto scrubber items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := loadEvents(cmd, args[0])
			if err != nil {
				return err
			}
			selected := lo.Filter(events, func(e event.Event, _ int) bool {
				return sourceID == "" || e.SourceID == sourceID
			})
			sorted := scrubber.SortChronological(selected)
			items := scrubber.Project(sorted)
			bounds, ok := scrubber.Bounds(sorted)

			if asJSON {
				view := map[string]any{"items": items}
				if ok {
					view["window"] = bounds
				}
				return writeJSON(cmd, view)
			}

			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{strconv.Itoa(it.ID), it.Key, it.Content, formatSeconds(it.Start)})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Key", "Content", "Start (ms)"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
			))
			if ok {
				fmt.Fprintf(out, "window: %s to %s ms\n", formatSeconds(bounds.Start), formatSeconds(bounds.End))
			} else {
				fmt.Fprintln(out, "window: none (no events)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "Tracked subject to project (all events when empty)")
	return cmd
}

func newResolveCommand() *cobra.Command {
	var (
		camera string
		tsMs   float64
	)

	cmd := &cobra.Command{
		Use:   "resolve PREVIEWS_FILE",
		Short: "Find the preview clip covering a camera at a timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if camera == "" {
				return fmt.Errorf("--camera is required")
			}
			previews, err := loadPreviews(cmd, args[0])
			if err != nil {
				return err
			}
			p, ok := preview.ResolveMillis(previews, camera, tsMs)
			if !ok {
				return fmt.Errorf("no preview for %s at %s ms", camera, formatSeconds(tsMs))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Camera", "Src", "Type", "Start", "End"},
				[][]string{{p.Camera, p.Src, p.Type, formatSeconds(p.Start), formatSeconds(p.End)}},
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&camera, "camera", "", "Camera name")
	cmd.Flags().Float64Var(&tsMs, "ts", 0, "Timestamp in milliseconds")
	return cmd
}
