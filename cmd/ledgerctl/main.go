// ledgerctl inspects and replays event ledger files offline: verify
// frame contiguity, dump stored batches, and re-run persisted frames
// against counting handlers to check replay determinism.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"emberfall/server/catalog"
	"emberfall/server/internal/dispatch"
	"emberfall/server/internal/event"
	"emberfall/server/internal/ledger"
)

var (
	ledgerPath  string
	catalogPath string
	jsonOutput  bool
	startFrame  uint64
	endFrame    uint64
)

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Inspect and replay event ledger files",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "path to the sqlite ledger file")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "path to an event catalog for wire names")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.MarkPersistentFlagRequired("ledger")

	rootCmd.AddCommand(newStatsCmd(), newVerifyCmd(), newDumpCmd(), newReplayCmd())
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&startFrame, "start", 0, "first frame (defaults to the ledger's first)")
	cmd.Flags().Uint64Var(&endFrame, "end", 0, "last frame (defaults to the ledger's last)")
}

func openLedger() (ledger.Ledger, error) {
	return ledger.OpenSQLite(ledgerPath)
}

func loadCatalog() (*catalog.Catalog, error) {
	if catalogPath == "" {
		return nil, nil
	}
	return catalog.Load(catalogPath)
}

func typeName(cat *catalog.Catalog, typeID uint16) string {
	if cat == nil {
		return fmt.Sprintf("type_%d", typeID)
	}
	return cat.Name(typeID)
}

// resolveRange fills unset range flags from the ledger bounds.
func resolveRange(lg ledger.Ledger) (uint64, uint64, error) {
	start, end := startFrame, endFrame
	if start != 0 && end != 0 {
		if end < start {
			return 0, 0, fmt.Errorf("invalid range [%d, %d]", start, end)
		}
		return start, end, nil
	}
	first, last, ok, err := lg.Bounds()
	if err != nil {
		return 0, 0, fmt.Errorf("read ledger bounds: %w", err)
	}
	if !ok {
		return 0, 0, fmt.Errorf("ledger is empty")
	}
	if start == 0 {
		start = first
	}
	if end == 0 {
		end = last
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid range [%d, %d]", start, end)
	}
	return start, end, nil
}

func printJSON(cmd *cobra.Command, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize a ledger file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lg, err := openLedger()
			if err != nil {
				return err
			}
			defer lg.Close()

			first, last, ok, err := lg.Bounds()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "ledger is empty")
				return nil
			}

			missing, err := lg.VerifyContiguous(first, last)
			if err != nil {
				return err
			}
			entries, err := lg.LoadRange(first, last)
			if err != nil {
				return err
			}
			events := 0
			for _, entry := range entries {
				events += len(entry.Events)
			}

			summary := struct {
				FirstFrame    uint64 `json:"firstFrame"`
				LastFrame     uint64 `json:"lastFrame"`
				Frames        int    `json:"frames"`
				Events        int    `json:"events"`
				MissingFrames int    `json:"missingFrames"`
			}{
				FirstFrame:    first,
				LastFrame:     last,
				Frames:        len(entries),
				Events:        events,
				MissingFrames: len(missing),
			}
			if jsonOutput {
				return printJSON(cmd, summary)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "frames %d..%d: %d stored, %d events, %d missing\n",
				summary.FirstFrame, summary.LastFrame, summary.Frames, summary.Events, summary.MissingFrames)
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a frame range for gaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lg, err := openLedger()
			if err != nil {
				return err
			}
			defer lg.Close()

			start, end, err := resolveRange(lg)
			if err != nil {
				return err
			}
			missing, err := lg.VerifyContiguous(start, end)
			if err != nil {
				return err
			}
			if len(missing) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "frames %d..%d contiguous\n", start, end)
				return nil
			}
			if jsonOutput {
				if err := printJSON(cmd, struct {
					Missing []uint64 `json:"missing"`
				}{Missing: missing}); err != nil {
					return err
				}
			} else {
				for _, frame := range missing {
					fmt.Fprintf(cmd.OutOrStdout(), "missing frame %d\n", frame)
				}
			}
			return fmt.Errorf("%d frames missing in [%d, %d]", len(missing), start, end)
		},
	}
	addRangeFlags(cmd)
	return cmd
}

type dumpEvent struct {
	Name    string `json:"name"`
	TypeID  uint16 `json:"typeId"`
	Tier    string `json:"tier"`
	Seq     uint32 `json:"seq"`
	Source  uint64 `json:"source,omitempty"`
	Target  uint64 `json:"target,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

type dumpFrame struct {
	Frame  uint64      `json:"frame"`
	Events []dumpEvent `json:"events"`
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print stored frame batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lg, err := openLedger()
			if err != nil {
				return err
			}
			defer lg.Close()

			cat, err := loadCatalog()
			if err != nil {
				return err
			}
			start, end, err := resolveRange(lg)
			if err != nil {
				return err
			}
			entries, err := lg.LoadRange(start, end)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			encoder := json.NewEncoder(out)
			for _, entry := range entries {
				frame := dumpFrame{Frame: entry.Frame, Events: make([]dumpEvent, 0, len(entry.Events))}
				for i := range entry.Events {
					rec := &entry.Events[i]
					frame.Events = append(frame.Events, dumpEvent{
						Name:    typeName(cat, rec.TypeID),
						TypeID:  rec.TypeID,
						Tier:    rec.Priority.String(),
						Seq:     rec.Seq,
						Source:  uint64(rec.Source),
						Target:  uint64(rec.Target),
						Payload: append([]byte(nil), rec.PayloadBytes()...),
					})
				}
				if jsonOutput {
					if err := encoder.Encode(frame); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "frame %d (%d events)\n", frame.Frame, len(frame.Events))
				for _, ev := range frame.Events {
					fmt.Fprintf(out, "  %-28s tier=%-9s seq=%d source=%d target=%d payload=%d bytes\n",
						ev.Name, ev.Tier, ev.Seq, ev.Source, ev.Target, len(ev.Payload))
				}
			}
			return nil
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-dispatch stored frames against counting handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lg, err := openLedger()
			if err != nil {
				return err
			}
			defer lg.Close()

			cat, err := loadCatalog()
			if err != nil {
				return err
			}
			start, end, err := resolveRange(lg)
			if err != nil {
				return err
			}
			entries, err := lg.LoadRange(start, end)
			if err != nil {
				return err
			}

			// One counting handler per type present in the range, so the
			// report covers every stored event.
			counts := make(map[uint16]int)
			registry := dispatch.NewRegistry()
			for _, entry := range entries {
				for i := range entry.Events {
					typeID := entry.Events[i].TypeID
					if _, seen := counts[typeID]; seen {
						continue
					}
					counts[typeID] = 0
					id := typeID
					registry.Register(id, dispatch.HandlerFunc(func(_ context.Context, events []event.Record) error {
						counts[id] += len(events)
						return nil
					}))
				}
			}

			report, err := dispatch.NewReplayer(nil).Replay(cmd.Context(), lg, start, end, registry)
			if err != nil {
				return err
			}

			if jsonOutput {
				byType := make(map[string]int, len(counts))
				for typeID, n := range counts {
					byType[typeName(cat, typeID)] = n
				}
				return printJSON(cmd, struct {
					StartFrame uint64         `json:"startFrame"`
					EndFrame   uint64         `json:"endFrame"`
					Frames     int            `json:"frames"`
					Events     int            `json:"events"`
					Failures   uint64         `json:"failures"`
					ByType     map[string]int `json:"byType"`
				}{report.StartFrame, report.EndFrame, report.Frames, report.Events, report.Failures, byType})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "replayed frames %d..%d: %d frames, %d events, %d failures\n",
				report.StartFrame, report.EndFrame, report.Frames, report.Events, report.Failures)
			for typeID, n := range counts {
				fmt.Fprintf(out, "  %-28s %d events\n", typeName(cat, typeID), n)
			}
			return nil
		},
	}
	addRangeFlags(cmd)
	return cmd
}
