package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/esclient"
	"pkt.systems/esclient/client"
	"pkt.systems/esclient/internal/svcfields"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("ESCLIENT_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "esclient")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return exitCode(err)
	}
	return 0
}

// exitCode maps failures onto distinct codes so scripts can tell a rejected
// request apart from an unreachable cluster.
func exitCode(err error) int {
	var remote *client.RemoteError
	switch {
	case errors.As(err, &remote):
		if remote.NotFound() {
			return 4
		}
		return 3
	case errors.Is(err, client.ErrTransport):
		return 5
	case errors.Is(err, client.ErrInvalidArguments):
		return 2
	}
	return 1
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cfg := newCLIConfig(baseLogger)
	cmd := &cobra.Command{
		Use:           "esclient",
		Short:         "esclient talks to an Elasticsearch-compatible search engine over HTTP",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Index a document with a generated id
  esclient index kitchen dish --generate-id --body '{"name":"carbonara"}'

  # Search one index against two nodes with basic auth
  ESCLIENT_SERVER=es1:9200,es2:9200 ESCLIENT_USERNAME=elastic ESCLIENT_PASSWORD=changeme \
    esclient search kitchen --body '{"query":{"match_all":{}}}' --pretty

  # Load an NDJSON bulk file into a default index/type
  esclient bulk --file dishes.ndjson --index kitchen --type dish --stats
`,
	}
	addGlobalFlags(cmd, cfg)
	cmd.AddCommand(
		newIndexCommand(cfg),
		newGetCommand(cfg),
		newMultigetCommand(cfg),
		newUpdateCommand(cfg),
		newSearchCommand(cfg),
		newCountCommand(cfg),
		newBulkCommand(cfg),
		newPercolateCommand(cfg),
		newPercolatorCommand(cfg),
		newMoreLikeThisCommand(cfg),
		newDeleteCommand(cfg),
		newDeleteByQueryCommand(cfg),
		newRawCommand(cfg),
		newConfigCommand(),
		newVersionCommand(),
	)
	return cmd
}

// loadConfigFile reads the explicit --config file, or the default one when it
// exists. It returns the path actually loaded.
func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString(keyConfig))
	explicit := cfgPath != ""
	if cfgPath == "" {
		candidate, err := esclient.DefaultConfigPath()
		if err != nil {
			return "", nil
		}
		cfgPath = candidate
	}
	expanded, err := esclient.ExpandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func bindConfig(v *viper.Viper) esclient.Config {
	return esclient.Config{
		Server:             v.GetString(keyServer),
		Username:           v.GetString(keyUsername),
		Password:           v.GetString(keyPassword),
		Secure:             v.GetBool(keySecure),
		InsecureSkipVerify: v.GetBool(keyInsecure),
		CAFile:             v.GetString(keyCAFile),
		ClientBundle:       v.GetString(keyClientBundle),
		Timeout:            v.GetDuration(keyTimeout),
		Shuffle:            v.GetBool(keyShuffle),
		HTTPTrace:          v.GetBool(keyHTTPTrace),
		LogLevel:           v.GetString(keyLogLevel),
		OTLPEndpoint:       v.GetString(keyOTLPEndpoint),
		MetricsListen:      v.GetString(keyMetricsListen),
		PprofListen:        v.GetString(keyPprofListen),
		RuntimeMetrics:     v.GetBool(keyRuntimeMetrics),
	}
}

func humanizeBytes(n int) string {
	if n < 0 {
		n = 0
	}
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func cliLogger(w io.Writer, level pslog.Level) pslog.Logger {
	return svcfields.WithSubsystem(pslog.NewStructured(w).LogLevel(level), svcfields.CLI)
}
