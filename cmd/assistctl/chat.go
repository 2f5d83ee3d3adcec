package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/cexll/assisthub-go/pkg/autoassist"
)

func chatCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("chat", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		assistantFlag = set.String("assistant", "", "Assistant ID to chat with (defaults to AutoAssist).")
		configFlag    = set.String("config", cfgPath, "Path to service config file.")
	)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: assistctl chat [flags] \"message\"")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nExamples:")
		fmt.Fprintln(streams.err, "  assistctl chat \"plan my trip to Osaka\"")
		fmt.Fprintln(streams.err, "  assistctl chat --assistant 3f2a... \"what is the forecast\"")
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	message := strings.TrimSpace(strings.Join(set.Args(), " "))
	if message == "" {
		return errors.New("chat requires a message")
	}
	a, err := newApp(ctx, *configFlag)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if *assistantFlag != "" {
		reply, err := a.manager.Send(ctx, *assistantFlag, message, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(streams.out, reply)
		return nil
	}
	if err := a.orch.HandleMessage(ctx, message, nil); err != nil {
		return err
	}
	return printAutoAssistTail(a, streams)
}

// printAutoAssistTail prints the assistant entries appended by the last
// orchestrator turn.
func printAutoAssistTail(a *app, streams ioStreams) error {
	agent, err := a.manager.Get(autoassist.AssistantID)
	if err != nil {
		return err
	}
	history := agent.DisplayHistory()
	// Walk back past the trailing assistant entries, then print them.
	start := len(history)
	for start > 0 && history[start-1].Role != "user" {
		start--
	}
	for _, msg := range history[start:] {
		fmt.Fprintln(streams.out, msg.Content)
	}
	return nil
}
