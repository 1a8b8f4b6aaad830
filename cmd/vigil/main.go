package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/everstacklabs/vigil/internal/config"
	"github.com/everstacklabs/vigil/internal/gateway"
	"github.com/everstacklabs/vigil/internal/gitops"
	"github.com/everstacklabs/vigil/internal/mcp"
	"github.com/everstacklabs/vigil/internal/review"
	"github.com/everstacklabs/vigil/internal/watch"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "vigil",
		Short: "Local LLM copilot for git working trees",
		Long:  "Talks to a locally hosted OpenAI-compatible server (LM Studio) and keeps a shadow review running over your uncommitted changes.",
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(
		watchCmd(),
		modelsCmd(),
		askCmd(),
		reviewCmd(),
		commitMsgCmd(),
		logCmd(),
		pingCmd(),
		resourcesCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll the working tree and shadow-review changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			repo, err := gitops.Open(cfg.Root)
			if err != nil {
				return err
			}

			gw := newGateway(cfg)
			detector := watch.NewDetector(repo.Root())
			sched := review.NewScheduler(gw, repo)
			sched.SetEnabled(cfg.Review.Enabled)
			if cfg.Model != "" {
				sched.SetModel(cfg.Model)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner := review.NewRunner(sched, detector, cfg.Review.PollInterval, cfg.Review.Cooldown,
				review.WithRefresh(func(ctx context.Context) {
					models := gw.RefreshModels(ctx, false)
					// No model configured: follow whatever the server loads.
					if cfg.Model == "" && len(models) > 0 {
						sched.SetModel(models[0])
					}
				}),
				review.WithNotify(func(result review.Result) {
					if result.Severity != review.SeveritySafe {
						fmt.Printf("[%s] %s\n", strings.ToUpper(string(result.Severity)), result.Message)
					}
				}),
			)

			slog.Info("watching", "root", repo.Root(), "interval", cfg.Review.PollInterval)
			runner.Start(ctx)
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models loaded on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")

			gw := newGateway(cfg)
			models := gw.RefreshModels(cmd.Context(), force)
			if !gw.Connected() {
				return fmt.Errorf("%s", gw.LastError())
			}
			for _, m := range models {
				fmt.Println(m)
			}
			if len(models) == 0 {
				fmt.Println(gw.LastError())
			}
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Bypass the catalog cache")

	return cmd
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask the model a question, optionally with diff context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			stream, _ := cmd.Flags().GetBool("stream")
			model, _ := cmd.Flags().GetString("model")
			withDiff, _ := cmd.Flags().GetBool("diff")
			staged, _ := cmd.Flags().GetBool("staged")
			if model == "" {
				model = cfg.Model
			}

			var diffContext string
			if withDiff || staged {
				repo, err := gitops.Open(cfg.Root)
				if err != nil {
					return err
				}
				if staged {
					diffContext = repo.StagedDiff()
				} else {
					diffContext = repo.UnstagedDiff()
				}
			}

			gw := newGateway(cfg)
			req := gateway.ChatRequest{
				Prompt:  strings.Join(args, " "),
				Context: diffContext,
				Model:   model,
			}

			if stream {
				for fragment := range gw.ChatStream(cmd.Context(), req) {
					fmt.Print(fragment)
				}
				fmt.Println()
				return nil
			}

			fmt.Println(gw.Chat(cmd.Context(), req))
			return nil
		},
	}

	cmd.Flags().Bool("stream", false, "Stream the response as it is generated")
	cmd.Flags().String("model", "", "Model to use (default: from config, else server's choice)")
	cmd.Flags().Bool("diff", false, "Attach the unstaged diff as context")
	cmd.Flags().Bool("staged", false, "Attach the staged diff as context")

	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "One-shot review of uncommitted changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			staged, _ := cmd.Flags().GetBool("staged")
			output, _ := cmd.Flags().GetString("output")

			repo, err := gitops.Open(cfg.Root)
			if err != nil {
				return err
			}

			subject := repo.UnstagedDiff()
			if staged {
				subject = repo.StagedDiff()
			}
			if strings.HasPrefix(subject, "(") || strings.HasPrefix(subject, "Error:") {
				return fmt.Errorf("nothing to review: %s", subject)
			}

			gw := newGateway(cfg)
			response := gw.Chat(cmd.Context(), gateway.ChatRequest{
				Prompt:  review.Prompt,
				Context: subject,
				Model:   cfg.Model,
			})
			result := review.Result{
				Severity: review.Classify(response),
				Message:  response,
			}

			if output == "yaml" {
				data, err := yaml.Marshal(result)
				if err != nil {
					return fmt.Errorf("encoding result: %w", err)
				}
				fmt.Print(string(data))
				return nil
			}

			fmt.Println(result.Message)
			if result.Severity == review.SeverityError {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().Bool("staged", false, "Review the staged diff instead of the unstaged one")
	cmd.Flags().String("output", "text", "Output format: text or yaml")

	return cmd
}

func commitMsgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit-msg",
		Short: "Draft a commit message for the staged changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			repo, err := gitops.Open(cfg.Root)
			if err != nil {
				return err
			}

			subject := repo.StagedDiff()
			if strings.HasPrefix(subject, "(") {
				subject = repo.UnstagedDiff()
			}
			if strings.HasPrefix(subject, "(") || strings.HasPrefix(subject, "Error:") {
				return fmt.Errorf("no changes to describe: %s", subject)
			}

			gw := newGateway(cfg)
			fmt.Println(gw.Chat(cmd.Context(), gateway.ChatRequest{
				Prompt:  "Write a concise one-line git commit message for this diff. Output only the message.",
				Context: subject,
				Model:   cfg.Model,
			}))
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("count")

			repo, err := gitops.Open(cfg.Root)
			if err != nil {
				return err
			}
			fmt.Println(repo.RecentLog(n))
			return nil
		},
	}

	cmd.Flags().IntP("count", "n", 10, "Number of commits to show")

	return cmd
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Round-trip check against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			gw := newGateway(cfg)
			fmt.Println(gw.Chat(cmd.Context(), gateway.ChatRequest{
				Prompt: "Reply with exactly: pong",
				Model:  cfg.Model,
			}))
			return nil
		},
	}
}

func resourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Inspect MCP server resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mcpCfg := loadMCPConfig(cfg)
			names := mcpCfg.ServerNames()
			if len(names) == 0 {
				fmt.Println("no MCP servers configured")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <server>",
			Short: "List resources exposed by a server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				client := mcp.NewClient(loadMCPConfig(cfg))
				resources, err := client.ListResources(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, r := range resources {
					fmt.Printf("%-40s %s\n", r.URI, r.Name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "read <server> <uri>",
			Short: "Read one resource from a server",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				client := mcp.NewClient(loadMCPConfig(cfg))
				text, err := client.ReadResource(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			},
		},
	)

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))
	return cfg, nil
}

func newGateway(cfg *config.Config) *gateway.Client {
	opts := []gateway.Option{}
	if cfg.ModelsTTL > 0 {
		opts = append(opts, gateway.WithModelsTTL(cfg.ModelsTTL))
	}
	return gateway.New(cfg.BaseURL, cfg.APIKey, opts...)
}

func loadMCPConfig(cfg *config.Config) *mcp.Config {
	path := cfg.MCP.ConfigPath
	if path == "" {
		path = mcp.FindConfig(cfg.Root)
	}
	mcpCfg := mcp.LoadConfig(path)
	if mcpCfg.LoadWarning != nil {
		slog.Debug("mcp config unavailable", "error", mcpCfg.LoadWarning)
	}
	return mcpCfg
}
