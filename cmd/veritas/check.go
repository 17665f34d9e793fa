package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/agent"
	"github.com/mohammad-safakhou/veritas/internal/event"
	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
	"github.com/mohammad-safakhou/veritas/internal/llm/openai"
	"github.com/mohammad-safakhou/veritas/internal/schema"
	"github.com/mohammad-safakhou/veritas/internal/tools"
)

func checkCMD() *cobra.Command {
	var cfgPath, file string
	check := &cobra.Command{
		Use:   "check [news text]",
		Short: "Fact-check a news text interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			newsText, err := readNewsText(args, file)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cfg, newsText)
		},
	}
	check.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config)")
	check.Flags().StringVarP(&file, "file", "f", "", "read the news text from a file (- for stdin)")
	return check
}

func readNewsText(args []string, file string) (string, error) {
	if file == "-" {
		b, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	return "", fmt.Errorf("provide a news text argument or --file")
}

func runCheck(ctx context.Context, cfg *config.Config, newsText string) error {
	logger := log.New(os.Stderr, "[CHECK] ", log.LstdFlags)

	var providers []llm.Gateway
	for _, pc := range cfg.LLM.Providers {
		providers = append(providers, openai.New(pc))
	}
	if len(providers) == 0 {
		return fmt.Errorf("no LLM providers configured")
	}
	gateway := llm.NewMux(providers...)

	bus := event.NewBus(logger)
	bus.SubscribeAll(printEvent)

	routing := cfg.LLM.Routing
	parser := schema.NewParser(gateway, routing.ModelFor("repair"), cfg.Agents.ParserFixAttempts, logger)
	searcherTools := tools.NewSearcherRegistry(cfg.Tools, nil, logger)
	wikiTools := tools.NewWikipediaRegistry(cfg.Tools, logger)

	sessionID := uuid.NewString()
	main, err := agent.NewMainAgent(gateway, parser, searcherTools, wikiTools, routing, cfg.Agents, bus, graph.NewMemoryCheckpointer(), sessionID, logger)
	if err != nil {
		return err
	}

	// bridge runtime tool/LLM events onto the bus so the printer sees them
	emitter := func(ev graph.Event) {
		bus.Publish(event.Event{
			Topic:     event.Topic(ev.Kind),
			SessionID: sessionID,
			Node:      ev.Node,
			Payload:   ev.Data,
			At:        ev.At,
		})
	}

	final, err := main.Invoke(ctx, newsText, emitter)
	for err != nil {
		var intr graph.ErrInterrupted
		if !errors.As(err, &intr) {
			return err
		}
		decision, derr := promptDecision(intr)
		if derr != nil {
			return derr
		}
		final, err = main.Resume(ctx, decision, emitter)
	}

	fmt.Println()
	fmt.Println(final.Report)
	return nil
}

// promptDecision asks the operator to approve or revise a suspended plan.
func promptDecision(intr graph.ErrInterrupted) (agent.ResumeDecision, error) {
	fmt.Println("\n--- plan awaiting verification ---")
	if b, ok := intr.Payload.(map[string]interface{}); ok {
		fmt.Println(previewJSON(b["check_points"]))
	}
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("approve plan? [c]ontinue / [r]evise: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return agent.ResumeDecision{}, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "c", "continue", "":
			return agent.ResumeDecision{Action: "continue"}, nil
		case "r", "revise":
			fmt.Print("feedback: ")
			fb, err := reader.ReadString('\n')
			if err != nil {
				return agent.ResumeDecision{}, err
			}
			fb = strings.TrimSpace(fb)
			if fb == "" {
				fmt.Println("feedback must not be empty")
				continue
			}
			return agent.ResumeDecision{Action: "revise", Feedback: fb}, nil
		}
	}
}

func printEvent(ev event.Event) {
	switch ev.Topic {
	case event.TopicToolStart:
		fmt.Printf("  -> tool %v\n", field(ev.Payload, "tool_name"))
	case event.TopicLLMDecision:
		fmt.Printf("  !! %v\n", field(ev.Payload, "decision"))
	case event.TopicExtractBasicMetadataEnd,
		event.TopicExtractKnowledgeEnd,
		event.TopicExtractCheckPointEnd,
		event.TopicGenerateAnswerEnd,
		event.TopicEvaluateResultEnd:
		fmt.Printf("== %s\n%s\n", ev.Topic, previewJSON(ev.Payload))
	case event.TopicError:
		fmt.Printf("ERROR: %v\n", field(ev.Payload, "message"))
	}
}

func field(payload interface{}, key string) interface{} {
	if m, ok := payload.(map[string]interface{}); ok {
		return m[key]
	}
	return ""
}

func previewJSON(v interface{}) string {
	const limit = 2000
	s := toJSON(v)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func toJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
