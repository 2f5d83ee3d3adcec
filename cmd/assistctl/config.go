package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cexll/assisthub-go/pkg/config"
)

func configCommand(argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("config", flag.ContinueOnError)
	set.SetOutput(streams.err)
	configFlag := set.String("config", cfgPath, "Path to service config file.")
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: assistctl config [flags] <init|check|show>")
		fmt.Fprintln(streams.err, "\nCommands:")
		fmt.Fprintln(streams.err, "  init   Create a new config file with defaults")
		fmt.Fprintln(streams.err, "  check  Validate the config file")
		fmt.Fprintln(streams.err, "  show   Print the effective configuration")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	cfgPath = *configFlag
	args := set.Args()
	if len(args) == 0 {
		set.Usage()
		return errors.New("config expects a subcommand")
	}
	switch args[0] {
	case "init":
		return configInit(cfgPath, streams.out)
	case "check":
		if _, err := config.Load(cfgPath); err != nil {
			return err
		}
		fmt.Fprintf(streams.out, "%s: OK\n", cfgPath)
		return nil
	case "show":
		return configShow(cfgPath, streams.out)
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

func configInit(path string, out io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	seed := config.ServiceConfig{Version: "v1"}
	seed.Provider.Name = "openai"
	seed.Provider.Model = "gpt-4o-mini"
	seed.Normalize()
	data, err := yaml.Marshal(&seed)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}

func configShow(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	shown := *cfg
	if shown.Provider.APIKey != "" {
		shown.Provider.APIKey = "***"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
