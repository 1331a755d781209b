package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vultisig/chat-relay/internal/config"
	"github.com/vultisig/chat-relay/internal/relay"
	"github.com/vultisig/chat-relay/internal/tokenstore"
	"github.com/vultisig/chat-relay/internal/transport"
)

type app struct {
	cfg    *config.ClientConfig
	logger *logrus.Logger
	client *relay.Client
}

type globalFlags struct {
	apiURL      string
	credentials string
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if flags.apiURL != "" {
		cfg.APIURL = flags.apiURL
	}
	if flags.credentials != "" {
		cfg.Credentials = flags.credentials
	}
	if cfg.Credentials == "" {
		cfg.Credentials = tokenstore.DefaultPath()
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	store := tokenstore.NewBolt(cfg.Credentials)
	pipe := transport.New(cfg.APIURL, store, logger)
	return &app{
		cfg:    cfg,
		logger: logger,
		client: relay.NewClient(pipe, store, cfg.Timeout),
	}, nil
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:          "chat",
		Short:        "Chat with the relay from the terminal",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.apiURL, "api-url", "", "relay base URL (overrides CHAT_API_URL)")
	root.PersistentFlags().StringVar(&flags.credentials, "credentials", "", "credentials file (overrides CHAT_CREDENTIALS)")

	root.AddCommand(newLoginCommand(flags))
	root.AddCommand(newWhoamiCommand(flags))
	root.AddCommand(newLogoutCommand(flags))
	root.AddCommand(newChatCommand(flags))
	return root
}

func newLoginCommand(flags *globalFlags) *cobra.Command {
	var queryString string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a signed terminal login query string",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			res, err := a.client.Login(cmd.Context(), queryString)
			if err != nil {
				return err
			}
			name := res.User.ExternalID
			if res.User.DisplayName != nil {
				name = *res.User.DisplayName
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&queryString, "query-string", "", "signed login query string")
	_ = cmd.MarkFlagRequired("query-string")
	return cmd
}

func newWhoamiCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			user, err := a.client.UserInfo(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(user)
		},
	}
}

func newLogoutCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			if err := a.client.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
