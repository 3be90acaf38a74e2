// Package scan implements the procscan scan command: discover the binary
// images loaded into a target process and print one record per module.
package scan

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	"github.com/tracefold/procscan/internal/config"
	errs "github.com/tracefold/procscan/internal/errors"
	"github.com/tracefold/procscan/internal/logging"
	"github.com/tracefold/procscan/internal/objfile"
	"github.com/tracefold/procscan/internal/privilege"
	"github.com/tracefold/procscan/internal/procmaps"
	"github.com/tracefold/procscan/internal/sys/proc"
)

// record is one printed module, optionally carrying the fallback content
// fingerprint for modules without a build id.
type record struct {
	procmaps.Module
	Fingerprint string `json:"fingerprint,omitempty"`
}

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	var (
		pid         int
		port        int
		mapsFile    string
		all         bool
		jsonOut     bool
		fingerprint bool
		configFile  string
		logLevel    string
		pretty      bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover the binary images loaded into a process",
		Long: `Scan reads the memory map of a target process, identifies every
mapped executable image (native ELF and Wine-loaded PE/COFF alike) and
prints one record per module: name, address range, build id, load bias
and executable segment offset.

The target is selected with --pid, by listening TCP port with --port, or
a saved maps file can be scanned offline with --maps-file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Log.Pretty = pretty
			}
			if cmd.Flags().Changed("json") {
				cfg.Output.JSON = jsonOut
			}
			if cmd.Flags().Changed("fingerprint") {
				cfg.Output.Fingerprint = fingerprint
			}

			logger := logging.NewWithComponent(
				logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}, "scan")

			if all {
				return scanAll(cmd, logger)
			}

			modules, err := discover(logger, pid, port, mapsFile)
			if err != nil {
				return err
			}
			return printModules(cmd, modules, cfg, logger)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "pid of the process to scan")
	cmd.Flags().IntVar(&port, "port", 0, "select the process listening on this TCP port")
	cmd.Flags().StringVar(&mapsFile, "maps-file", "", "scan a saved maps file instead of a live process")
	cmd.Flags().BoolVar(&all, "all", false, "summarize modules of every visible process")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit module records as JSON")
	cmd.Flags().BoolVar(&fingerprint, "fingerprint", false, "compute a content digest for modules without a build id")
	cmd.Flags().StringVar(&configFile, "config", "", "path to the config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "human-readable console logs")

	return cmd
}

// discover resolves the scan target and runs one reconciliation pass over
// its memory map.
func discover(logger zerolog.Logger, pid, port int, mapsFile string) ([]procmaps.Module, error) {
	classify := procmaps.WithLogging(objfile.Classify, logger)

	if mapsFile != "" {
		//nolint:gosec // G304: Path is a user-supplied maps file.
		f, err := os.Open(mapsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open maps file: %w", err)
		}
		defer errs.DeferClose(logger, f, "failed to close maps file")

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read maps file: %w", err)
		}
		mappings, err := procmaps.ParseMaps(string(data))
		if err != nil {
			return nil, err
		}
		return procmaps.Reconcile(mappings, classify), nil
	}

	if port != 0 {
		p, err := proc.FindPidByPort(port)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve port %d to a process: %w", port, err)
		}
		if p == 0 {
			return nil, fmt.Errorf("no process is listening on port %d", port)
		}
		logger.Info().Int("port", port).Int("pid", p).Msg("Resolved scan target by port")
		pid = p
	}
	if pid == 0 {
		return nil, fmt.Errorf("one of --pid, --port or --maps-file is required")
	}
	if !proc.Exists(pid) {
		return nil, fmt.Errorf("process %d does not exist", pid)
	}
	if !privilege.CanInspect(pid) {
		logger.Warn().Int("pid", pid).
			Msg("Process belongs to another user; reading its map may require root")
	}
	logTarget(logger, pid)

	mapsText, err := proc.ReadMaps(pid)
	if err != nil {
		return nil, err
	}
	mappings, err := procmaps.ParseMaps(mapsText)
	if err != nil {
		return nil, err
	}
	return procmaps.Reconcile(mappings, classify), nil
}

// logTarget logs the identity of the process about to be scanned.
func logTarget(logger zerolog.Logger, pid int) {
	ev := logger.Info().Int("pid", pid)
	if p, err := process.NewProcess(int32(pid)); err == nil {
		if name, err := p.Name(); err == nil {
			ev = ev.Str("name", name)
		}
	}
	if exe, err := proc.BinaryPath(pid); err == nil {
		ev = ev.Str("exe", exe)
	}
	ev.Msg("Scanning process")
}

// scanAll prints a one-line module summary for every visible process.
// Processes whose map cannot be read (permissions, races with exit) are
// skipped, matching the per-module containment policy of a single scan.
func scanAll(cmd *cobra.Command, logger zerolog.Logger) error {
	pids, err := proc.ListPids()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tMODULES\tEXECUTABLE")
	for _, pid := range pids {
		modules, err := procmaps.ReadModules(pid)
		if err != nil {
			logger.Debug().Err(err).Int("pid", pid).Msg("Skipping unreadable process")
			continue
		}
		exe, _ := proc.BinaryPath(pid)
		fmt.Fprintf(w, "%d\t%d\t%s\n", pid, len(modules), exe)
	}
	return w.Flush()
}

// printModules renders the records as a table or as JSON.
func printModules(cmd *cobra.Command, modules []procmaps.Module, cfg *config.Config, logger zerolog.Logger) error {
	records := make([]record, 0, len(modules))
	for _, m := range modules {
		rec := record{Module: m}
		if cfg.Output.Fingerprint && m.BuildID == "" {
			fp, err := objfile.Fingerprint(m.Path)
			if err != nil {
				logger.Warn().Err(err).Str("path", m.Path).Msg("Failed to fingerprint module")
			} else {
				rec.Fingerprint = fp
			}
		}
		records = append(records, rec)
	}

	if cfg.Output.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTART\tEND\tFORMAT\tBUILD ID\tPATH")
	for _, rec := range records {
		id := rec.BuildID
		if id == "" {
			id = rec.Fingerprint
		}
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "%s\t%#x\t%#x\t%s\t%s\t%s\n",
			rec.Name, rec.Start, rec.End, rec.Format, id, rec.Path)
	}
	return w.Flush()
}
