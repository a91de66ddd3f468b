package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/lang2file/config"
	"github.com/hupe1980/lang2file/internal/bootstrap"
	"github.com/hupe1980/lang2file/internal/repl"
	"github.com/hupe1980/lang2file/registry"
)

// cli carries state shared by the sub-commands.
type cli struct {
	cfgFile  string
	provider string
	cfg      *config.Config

	// buildOpts lets tests replace the model.
	buildOpts []func(o *bootstrap.Options)
}

func newRootCmd(buildOpts ...func(o *bootstrap.Options)) *cobra.Command {
	c := &cli{buildOpts: buildOpts}

	root := &cobra.Command{
		Use:           "lang2file",
		Short:         "Natural-language file assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			if c.provider != "" {
				cfg.Model.Provider = c.provider
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			c.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "Path to lang2file YAML config file")
	root.PersistentFlags().StringVar(&c.provider, "provider", "", "Override the model provider (openai, anthropic, mock)")

	root.AddCommand(
		c.newServeCmd(),
		c.newChatCmd(),
		c.newReplCmd(),
		c.newToolsCmd(),
	)

	return root
}

// withApp builds the application, runs fn and releases it.
func (c *cli) withApp(ctx context.Context, errOut io.Writer, fn func(app *bootstrap.App) error) error {
	opts := append([]func(o *bootstrap.Options){func(o *bootstrap.Options) { o.LogOutput = errOut }}, c.buildOpts...)

	app, err := bootstrap.Build(ctx, c.cfg, opts...)
	if err != nil {
		return err
	}

	return errors.Join(fn(app), app.Close())
}

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), cmd.ErrOrStderr(), func(app *bootstrap.App) error {
				err := app.Server().Start(cmd.Context())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func (c *cli) newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:     "chat <message>",
		Aliases: []string{"c"},
		Short:   "Send one message and stream the answer",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")

			return c.withApp(cmd.Context(), cmd.ErrOrStderr(), func(app *bootstrap.App) error {
				stream, err := app.Service.ChatSessionStream(cmd.Context(), sessionID, message)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for fragment := range stream.Fragments {
					fmt.Fprint(out, fragment)
				}
				fmt.Fprintln(out)

				return <-stream.Err
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Conversation session id")

	return cmd
}

func (c *cli) newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), cmd.ErrOrStderr(), func(app *bootstrap.App) error {
				return repl.New(app.Service, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()).Run(cmd.Context())
			})
		},
	}
}

func (c *cli) newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := bootstrap.NewRegistry(c.cfg.Tools, nil)
			if err != nil {
				return err
			}

			printTools(cmd.OutOrStdout(), reg.All())

			return nil
		},
	}
}

func printTools(w io.Writer, ds []registry.Descriptor) {
	width := 0
	for _, d := range ds {
		width = max(width, len(d.Name))
	}
	for _, d := range ds {
		fmt.Fprintf(w, "%-*s  %s\n", width, d.Name, d.Description)
	}
}
