// Package client is the Go SDK for a document search engine's HTTP API
// (the /{index}/{type}/{id} layout). Every operation maps onto one HTTP
// request and delivers the raw JSON response; decoding it is left to the
// caller.
//
// # Quick start
//
//	cli, err := client.New("http://localhost:9200", client.WithHTTPTimeout(10*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cli.Close()
//
// # Completion protocols
//
// Each operation returns a *Call. Passing a handler dispatches the request
// right away and delivers the result exactly once:
//
//	_, err = cli.Get(ctx, "kitchen", "dish", "sushi", client.WithHandler(func(body []byte, err error) {
//	    if err != nil {
//	        log.Printf("get failed: %v", err)
//	        return
//	    }
//	    fmt.Println(string(body))
//	}))
//
// Without a handler the call is deferred. Attach listeners first, then
// trigger it; no request is issued before Execute:
//
//	call, err := cli.Search(ctx, request.InIndex("kitchen"), map[string]any{
//	    "query": map[string]any{"term": map[string]any{"name": "sushi"}},
//	})
//	if err != nil {
//	    log.Fatal(err) // malformed call, nothing was sent
//	}
//	call.OnData(func(body []byte) { fmt.Println(string(body)) }).
//	    OnError(func(err error) { log.Print(err) })
//	if err := call.Execute(); err != nil {
//	    log.Fatal(err)
//	}
//	<-call.Done()
//
// # Errors
//
// Operations return an error only for malformed arguments
// (errors.Is(err, ErrInvalidArguments)). Everything after dispatch arrives
// through the chosen protocol as a *TransportError (errors.Is(err,
// ErrTransport)) or a *RemoteError carrying the status and the raw body.
//
// # Correlation and telemetry
//
// A correlation id attached with WithCorrelationID is sent as
// X-Correlation-Id; calls without one get a generated UUIDv7. Each call
// opens a client span and records esclient.requests and
// esclient.request.duration_ms through the configured OpenTelemetry
// providers.
package client
