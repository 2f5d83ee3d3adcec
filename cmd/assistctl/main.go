package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

// ioStreams wires stdout/stderr for commands and becomes injectable in tests.
type ioStreams struct {
	out io.Writer
	err io.Writer
}

// cliCommand is one assistctl subcommand. Usage output is generated from
// this table, so adding a command means adding a row.
type cliCommand struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, cfgPath string, streams ioStreams) error
}

func cliCommands() []cliCommand {
	return []cliCommand{
		{"chat", "Send one message and print the reply", chatCommand},
		{"serve", "Start the HTTP API server", serveCommand},
		{"config", "Inspect and validate local configuration",
			func(_ context.Context, args []string, cfgPath string, streams ioStreams) error {
				return configCommand(args, cfgPath, streams)
			}},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	streams := ioStreams{out: os.Stdout, err: os.Stderr}
	if err := runCLI(ctx, os.Args[1:], streams); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(streams.err, err)
		}
		os.Exit(1)
	}
}

func runCLI(ctx context.Context, argv []string, streams ioStreams) error {
	commands := cliCommands()
	global := flag.NewFlagSet("assistctl", flag.ContinueOnError)
	global.SetOutput(streams.err)
	configPath := defaultConfigPath()
	global.StringVar(&configPath, "config", configPath, "Path to service config file (defaults to ~/.assisthub/config.yaml).")
	global.Usage = func() { printUsage(streams.err, global, commands) }
	if err := global.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		return fmt.Errorf("missing command")
	}
	name, rest := args[0], args[1:]
	if name == "help" || name == "-h" || name == "--help" {
		global.Usage()
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd.run(ctx, rest, configPath, streams)
		}
	}
	global.Usage()
	return fmt.Errorf("unknown command %q", name)
}

func printUsage(w io.Writer, global *flag.FlagSet, commands []cliCommand) {
	fmt.Fprintln(w, "assistctl manages assisthub assistants and the orchestrator service.")
	fmt.Fprintln(w, "\nUsage:\n  assistctl [global flags] <command> [args]")
	fmt.Fprintln(w, "\nCommands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-7s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(w, "\nGlobal Flags:")
	global.PrintDefaults()
	fmt.Fprintln(w, "\nRun 'assistctl <command> -h' for command-specific usage.")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".assisthub", "config.yaml")
}
