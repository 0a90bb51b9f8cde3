package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/authorizer/internal/server"
	"github.com/StricklySoft/authorizer/pkg/auth"
	"github.com/StricklySoft/authorizer/pkg/config"
	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// errDenied is returned by verify when the token is rejected. The denial
// has already been reported, so main only sets the exit status.
var errDenied = errors.New("token denied")

// app carries the command dependencies tests replace.
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	stdin      io.Reader
	configPath string
	authOpts   []auth.Option
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "authorizer",
		Short:         "Bearer token authorizer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"path to a YAML or JSON config file")
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	if a.stdin != nil {
		root.SetIn(a.stdin)
	}

	root.AddCommand(newServeCommand(a), newVerifyCommand(a))
	return root
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the forward-auth HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, authz, err := a.setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.New(cfg, authz, logger).Run(ctx)
		},
	}
}

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [token|-]",
		Short: "Verify one token and print its authorization context",
		Long: "Verify one token and print its authorization context as JSON.\n" +
			"With no argument or \"-\" the token is read from standard input.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			_, _, authz, err := a.setup()
			if err != nil {
				return err
			}

			result, err := authz.Authorize(cmd.Context(), token)
			if err != nil {
				code := sserr.GetCode(err)
				fmt.Fprintf(cmd.ErrOrStderr(), "denied: %s (%s)\n", code.Kind(), code)
				return errDenied
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

// setup loads the configuration and builds the logger and authorizer
// shared by every subcommand.
func (a *app) setup() (server.Config, *slog.Logger, *auth.Authorizer, error) {
	var cfg server.Config
	err := config.New().
		WithEnvPrefix(server.EnvPrefix).
		WithFile(a.configPath).
		Load(&cfg)
	if err != nil {
		return cfg, nil, nil, err
	}

	logger, err := server.NewLogger(a.stderr, cfg)
	if err != nil {
		return cfg, nil, nil, err
	}
	opts := append([]auth.Option{auth.WithLogger(logger)}, a.authOpts...)
	authz, err := auth.NewAuthorizer(cfg.Auth, opts...)
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, logger, authz, nil
}

func readToken(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", sserr.Wrap(err, sserr.CodeInternal, "verify: failed to read token")
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", sserr.New(sserr.CodeValidationRequired, "verify: no token given")
	}
	return token, nil
}
