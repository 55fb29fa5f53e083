package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentstream/config"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. Chat turns are accepted on POST /api/chat and
streamed back as server-sent events. SIGINT and SIGTERM shut the server
down gracefully.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to YAML configuration file")

	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		system     string
		user       string
		reasoning  bool
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Run a single chat turn and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runChat(ctx, cfg, chatParams{
				Message:   args[0],
				System:    system,
				UserID:    user,
				Reasoning: reasoning,
				Out:       cmd.OutOrStdout(),
				Status:    cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to YAML configuration file")
	cmd.Flags().StringVar(&system, "system", "", "System prompt (rendered from the template when empty)")
	cmd.Flags().StringVar(&user, "user", "cli", "User id for memory and linked accounts")
	cmd.Flags().BoolVar(&reasoning, "reasoning", false, "Print reasoning to stderr")

	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(raw, '\n'))
			return err
		},
	})

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cmd.Printf("configuration ok: provider=%s storage=%s addr=%s\n",
				cfg.Model.Provider, cfg.Storage.Driver, cfg.Server.Addr())
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to YAML configuration file")
	cmd.AddCommand(validateCmd)

	return cmd
}
