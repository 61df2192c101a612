// deltapi runs a delta-style 3D printer from a Linux single-board host.
// It interprets G-code from a serial port, stdin or a file, plans the
// motion through the delta kinematics, and emits timed step pulses to
// the hardware backend.
//
// Usage:
//
//	deltapi run [--profile printer.yaml] [--serial /dev/ttyAMA0] [--gcode file]
//
// Without --serial or --gcode, commands are read from stdin and replies
// written to stdout, which is how OctoPrint-style hosts drive it over a
// pipe.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deltapi/pkg/gcode"
	"deltapi/pkg/iodrv"
	"deltapi/pkg/log"
	"deltapi/pkg/machine"
	"deltapi/pkg/sched"
	"deltapi/pkg/state"
)

type runOptions struct {
	profile    string
	serial     string
	baud       int
	gcodeFile  string
	gcodeRoot  string
	persistent bool
	logLevel   string
	logFile    string
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deltapi",
		Short: "deltapi - delta printer firmware host",
		Long:  "deltapi executes G-code on a Linux single-board host, driving steppers, heaters, fans and endstops in real time.",
	}
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the printer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrinter(opts)
		},
	}

	cmd.Flags().StringVar(&opts.profile, "profile", "", "machine profile YAML (defaults to the built-in delta)")
	cmd.Flags().StringVar(&opts.serial, "serial", "", "serial device for host communication")
	cmd.Flags().IntVar(&opts.baud, "baud", 115200, "serial baud rate")
	cmd.Flags().StringVar(&opts.gcodeFile, "gcode", "", "print a gcode file instead of serving a host")
	cmd.Flags().StringVar(&opts.gcodeRoot, "gcode-root", ".", "directory M32 subprograms are loaded from")
	cmd.Flags().BoolVar(&opts.persistent, "persistent-host", true, "keep polling the host channel while printing from a file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (verbose|debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "log file path (default stderr)")

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the firmware version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deltapi %s\n", state.Version)
		},
	}
}

func runPrinter(opts *runOptions) error {
	log.SetLevel(log.ParseLevel(opts.logLevel))
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		log.SetWriter(f)
		log.SetColorize(false)
	}

	profile := machine.DefaultProfile()
	if opts.profile != "" {
		var err error
		if profile, err = machine.LoadProfile(opts.profile); err != nil {
			return err
		}
	}

	var root *gcode.Channel
	switch {
	case opts.serial != "":
		var err error
		root, err = gcode.NewSerialChannel(gcode.SerialConfig{Device: opts.serial, Baud: opts.baud})
		if err != nil {
			return err
		}
	case opts.gcodeFile != "":
		var err error
		root, err = gcode.NewFileChannel(opts.gcodeFile)
		if err != nil {
			return err
		}
	default:
		root = gcode.NewStdioChannel()
	}

	// The DMA/GPIO backend is provided by the deployment; the bundled
	// simulated backend keeps development machines useful.
	backend := sched.NewSimBackend(256)

	m, err := machine.Build(profile, machine.Options{
		Backend:        backend,
		ReadInput:      iodrv.PinReader(backend.ReadInput),
		Root:           root,
		PersistentRoot: opts.persistent,
		FS:             state.NewDirFS(opts.gcodeRoot),
	})
	if err != nil {
		return err
	}

	log.Default().Info("deltapi %s starting (%s kinematics)", state.Version, profile.Kinematics)
	if err := m.State.Run(); err != nil {
		log.Default().Error("event loop failed: %v", err)
		os.Exit(1)
	}
	log.Default().Info("shutdown complete")
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
