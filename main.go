// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// promptroute routes prompts to the cheapest capable model and keeps the
// receipts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jeranaias/promptroute/internal/config"
	"github.com/jeranaias/promptroute/internal/export"
	"github.com/jeranaias/promptroute/internal/gateway"
	"github.com/jeranaias/promptroute/internal/pricing"
	"github.com/jeranaias/promptroute/internal/router"
	"github.com/jeranaias/promptroute/internal/session"
)

const version = "0.3.0"

const usageText = `promptroute %s - rule-based LLM routing with cost accounting

Usage: promptroute <command> [flags] [args]

Commands:
  models                      List the model catalog with pricing
  estimate [flags] <prompt>   Compare estimated cost across all models
  route [flags] <prompt>      Show the routing decision without sending
  ask [flags] <prompt>        Send a prompt through routing and print the answer
  summary                     Show today's cost summary from the ledger
  report [flags] [path]       Export a cost report (json, csv, md)
  version                     Print the version

Environment:
  PROMPTROUTE_API_KEY         Gateway API key (or OPENROUTER_API_KEY, or .env)
  PROMPTROUTE_MODEL           Override the default model
  PROMPTROUTE_LEDGER          Override the cost ledger path
`

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}

	var cmdErr error
	switch os.Args[1] {
	case "models":
		cmdErr = cmdModels(cfg)
	case "estimate":
		cmdErr = cmdEstimate(cfg, os.Args[2:])
	case "route":
		cmdErr = cmdRoute(cfg, os.Args[2:])
	case "ask":
		cmdErr = cmdAsk(cfg, os.Args[2:])
	case "summary":
		cmdErr = cmdSummary(cfg)
	case "report":
		cmdErr = cmdReport(cfg, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println("promptroute " + version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if cmdErr != nil {
		fatal(cmdErr)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, usageText, version)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "promptroute: %v\n", err)
	os.Exit(1)
}

// =============================================================================
// COMMANDS
// =============================================================================

func cmdModels(cfg *config.Config) error {
	cat, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}
	fmt.Printf("%-32s %-20s %12s %10s\n", "MODEL", "NAME", "$/1K TOKENS", "CONTEXT")
	for _, m := range cat.Models() {
		marker := "  "
		if m.ID == cfg.DefaultModel {
			marker = "* "
		}
		fmt.Printf("%s%-30s %-20s %12s %10d\n", marker, m.ID, m.Name, m.CostPer1K.String(), m.ContextLength)
	}
	fmt.Println("\n* default model")
	return nil
}

func cmdEstimate(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	promptTokens := fs.Int("prompt-tokens", 0, "prompt token count (default: estimate from text)")
	completion := fs.Int("completion-tokens", -1, "completion token count (default: per-model heuristic)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" && *promptTokens <= 0 {
		return fmt.Errorf("estimate: need a prompt or -prompt-tokens")
	}

	cat, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}
	est := pricing.NewEstimator(cat)

	p := *promptTokens
	if p <= 0 {
		p = pricing.EstimateTokens(prompt)
	}

	fmt.Printf("Prompt tokens: %d\n\n", p)
	fmt.Printf("%-32s %18s %12s\n", "MODEL", "COMPLETION (EST)", "COST (USD)")
	for _, m := range cat.Models() {
		c := *completion
		if c < 0 {
			c = pricing.EstimateCompletionTokens(m.ID, p)
		}
		cost, err := est.Estimate(m.ID, p, c)
		if err != nil {
			return err
		}
		fmt.Printf("%-32s %18d %12s\n", m.ID, c, cost.StringFixed(6))
	}
	return nil
}

func cmdRoute(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	model := fs.String("model", "", "manual model override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" {
		return fmt.Errorf("route: need a prompt")
	}

	cat, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}
	rt, err := cfg.BuildRouter(cat)
	if err != nil {
		return err
	}

	decision, err := rt.Route(prompt, *model, 0)
	if err != nil {
		var invalid *router.InvalidModelError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w (use 'promptroute models' to list valid ids)", err)
		}
		return err
	}

	fmt.Printf("Selected model:   %s\n", decision.SelectedModel)
	fmt.Printf("Prompt type:      %s\n", decision.PromptType)
	fmt.Printf("Length bucket:    %s (%d estimated tokens)\n", decision.LengthBucket, decision.EstimatedTokens)
	fmt.Printf("Manual override:  %v\n", decision.ManualOverride)
	fmt.Printf("Reason:           %s\n", decision.Reason)
	return nil
}

func cmdAsk(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	model := fs.String("model", "", "manual model override")
	system := fs.String("system", "", "optional system prompt")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" {
		return fmt.Errorf("ask: need a prompt")
	}

	sess, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	var messages []gateway.ChatMessage
	if *system != "" {
		messages = append(messages, gateway.NewSystemMessage(*system))
	}
	messages = append(messages, gateway.NewUserMessage(prompt))

	reply, err := sess.Send(ctx, messages, *model)
	if err != nil {
		return err
	}

	fmt.Println(reply.Content)
	fmt.Fprintf(os.Stderr, "\n[%s | %d tokens | $%s | %v]\n",
		reply.Model, reply.Usage.TotalTokens, reply.Record.Cost.StringFixed(6), reply.Latency.Round(time.Millisecond))
	if reply.Warning != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", reply.Warning)
	}
	return nil
}

func cmdSummary(cfg *config.Config) error {
	sess, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	daily, err := sess.Tracker().DailySummary(time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Cost summary for %s\n\n", daily.Date)
	fmt.Printf("Calls:  %d\n", daily.Calls)
	fmt.Printf("Tokens: %d\n", daily.TotalTokens)
	fmt.Printf("Cost:   $%s\n", daily.TotalCost.StringFixed(6))
	if len(daily.PerModel) > 0 {
		fmt.Println("\nPer model:")
		for model, stats := range daily.PerModel {
			fmt.Printf("  %-32s %4d calls  %8d tokens  $%s\n",
				model, stats.Calls, stats.TotalTokens, stats.Cost.StringFixed(6))
		}
	}
	return nil
}

func cmdReport(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	format := fs.String("format", "json", "export format: json, csv, md")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	exporter, err := export.ForFormat(*format)
	if err != nil {
		return err
	}

	path := fs.Arg(0)
	if path == "" {
		path = fmt.Sprintf("cost_report_%s.%s", time.Now().Format("20060102_150405"), exporter.FileExtension())
	}

	rep, err := sess.Tracker().BuildReport()
	if err != nil {
		return err
	}
	written, err := export.WriteReport(rep, exporter, path)
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", written)
	return nil
}
