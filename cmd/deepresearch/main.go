package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/robinochieng/deepresearch/config"
	core "github.com/robinochieng/deepresearch/internal/agent/core"
	"github.com/robinochieng/deepresearch/internal/agent/telemetry"
	"github.com/robinochieng/deepresearch/internal/mail"
	srv "github.com/robinochieng/deepresearch/internal/server"
	"github.com/robinochieng/deepresearch/provider"
)

var version = "dev"

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	var configPath string
	root := &cobra.Command{Use: "deepresearch"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	var recipient string
	research := &cobra.Command{
		Use:   "research [query]",
		Short: "Run the research pipeline once and email the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			orch, _, err := buildPipeline(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if cfg.General.MaxProcessingTime > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.General.MaxProcessingTime)
				defer cancel()
			}

			result, err := orch.Run(ctx, args[0], recipient)
			if err != nil {
				if result != nil && result.Report.MarkdownReport != "" {
					fmt.Println(result.Report.MarkdownReport)
				}
				return err
			}

			fmt.Println(result.Report.MarkdownReport)
			fmt.Printf("\nDelivery: %s\n", result.Delivery.Outcome)
			for _, issue := range result.Delivery.BlockingIssues {
				fmt.Printf("  blocked: %s\n", issue)
			}
			for _, warning := range result.Delivery.Warnings {
				fmt.Printf("  warning: %s\n", warning)
			}
			return nil
		},
	}
	research.Flags().StringVar(&recipient, "recipient", "", "override the configured recipient")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			orch, limiter, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("DEEPRESEARCH_HTTP_ADDR")
			}
			return srv.New(cfg, orch, limiter).Start(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("deepresearch", version)
		},
	}

	root.AddCommand(research, serve, versionCmd)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// buildPipeline wires the full pipeline from configuration: LLM agents, the
// search fan-out, and the guardrailed SMTP delivery gateway.
func buildPipeline(cfg *config.Config) (*core.Orchestrator, *mail.RateLimiter, error) {
	// Credential problems surface here, before any pipeline stage runs.
	if err := cfg.LLM.Validate(); err != nil {
		return nil, nil, err
	}
	if err := cfg.Email.Validate(); err != nil {
		return nil, nil, err
	}

	llm, err := provider.NewProvider(provider.OpenAI, cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	planner := core.NewLLMPlanner(llm, cfg.Research.MinSearches, cfg.Research.MaxSearches)
	searcher := core.NewLLMSearcher(llm, cfg.Research.SummaryMaxWords)
	fanout := core.NewFanOutExecutor(searcher, cfg.Research.MaxSearches)
	writer := core.NewLLMWriter(llm)

	limiter := mail.NewRateLimiter(cfg.Guardrail.HourlyLimit, cfg.Guardrail.DailyLimit)
	engine := mail.NewEngine(limiter)
	transport := &mail.SMTPTransport{
		Host:     cfg.Email.SMTPServer,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.Username,
		Password: cfg.Email.AppPassword,
		UseTLS:   cfg.Email.UseTLS,
		Timeout:  cfg.Email.Timeout,
	}
	if transport.Timeout == 0 {
		transport.Timeout = 30 * time.Second
	}
	gateway := mail.NewGateway(transport, engine, limiter, cfg.Email.Username, cfg.Email.MaxRetries, cfg.Email.BackoffBase)

	tel := telemetry.NewTelemetry(cfg.Telemetry)
	orch := core.NewOrchestrator(cfg, tel, planner, fanout, writer, gateway)
	return orch, limiter, nil
}
