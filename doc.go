// Package esclient holds the file and environment driven configuration for
// the search engine client together with the telemetry bootstrap used by the
// esclient CLI.
//
// The HTTP client itself lives in pkt.systems/esclient/client, request
// construction in pkt.systems/esclient/request and the shared wire types in
// pkt.systems/esclient/api. Programs that only need the client can import
// those packages directly; this package is a convenience for callers that
// want the same config file, env var and OpenTelemetry wiring as the CLI:
//
//	cfg := esclient.DefaultConfig()
//	cfg.Server = "es1:9200,es2:9200"
//	tel, err := esclient.SetupTelemetry(ctx, cfg.Telemetry(), logger)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//	cli, err := cfg.NewClient(logger)
package esclient
