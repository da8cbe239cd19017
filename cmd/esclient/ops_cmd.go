package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/esclient/client"
	"pkt.systems/esclient/request"
)

func scopeFromArgs(args []string) request.Scope {
	switch len(args) {
	case 0:
		return request.All()
	case 1:
		return request.InIndex(args[0])
	default:
		return request.InType(args[0], args[1])
	}
}

func newIndexCommand(cfg *cliConfig) *cobra.Command {
	var body bodyFlags
	var generateID bool
	cmd := &cobra.Command{
		Use:   "index <index> <type> [id]",
		Short: "Store a document (PUT with an id, POST without)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 3 {
				id = args[2]
			}
			if generateID {
				if id != "" {
					return errors.New("--generate-id conflicts with an explicit id")
				}
				id = client.NewDocumentID()
			}
			data, err := body.read(cmd)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Index(ctx, args[0], args[1], id, optionalBody(data), opts...)
			})
		},
	}
	body.register(cmd, "document")
	cmd.Flags().BoolVar(&generateID, "generate-id", false, "assign a client-side document id")
	return cmd
}

func newGetCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get <index> <type> <id>",
		Short: "Fetch a document by id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Get(ctx, args[0], args[1], args[2], opts...)
			})
		},
	}
}

func newMultigetCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "mget <index> <type> <id>...",
		Aliases: []string{"multiget"},
		Short:   "Fetch several documents of one index/type",
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Multiget(ctx, args[0], args[1], args[2:], opts...)
			})
		},
	}
}

func newUpdateCommand(cfg *cliConfig) *cobra.Command {
	var body bodyFlags
	cmd := &cobra.Command{
		Use:   "update <index> <type> <id>",
		Short: "Apply a partial update or script to a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := body.read(cmd)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Update(ctx, args[0], args[1], args[2], optionalBody(data), opts...)
			})
		},
	}
	body.register(cmd, "update body")
	return cmd
}

func newSearchCommand(cfg *cliConfig) *cobra.Command {
	var body bodyFlags
	cmd := &cobra.Command{
		Use:   "search [index] [type]",
		Short: "Run a query across all indices, one index, or one type",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := body.read(cmd)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Search(ctx, scopeFromArgs(args), optionalBody(data), opts...)
			})
		},
	}
	body.register(cmd, "query")
	return cmd
}

func newCountCommand(cfg *cliConfig) *cobra.Command {
	var body bodyFlags
	var q string
	cmd := &cobra.Command{
		Use:   "count [index] [type]",
		Short: "Count matching documents",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := body.read(cmd)
			if err != nil {
				return err
			}
			if q != "" && data != nil {
				return errors.New("--q conflicts with --body/--file")
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				if q != "" {
					return cfg.cli.CountQuery(ctx, scopeFromArgs(args), q, opts...)
				}
				return cfg.cli.Count(ctx, scopeFromArgs(args), optionalBody(data), opts...)
			})
		},
	}
	body.register(cmd, "query")
	cmd.Flags().StringVar(&q, "q", "", "query string (sent as ?q=)")
	return cmd
}

func newBulkCommand(cfg *cliConfig) *cobra.Command {
	var file, index, typ string
	cmd := &cobra.Command{
		Use:   "bulk --file <ndjson>",
		Short: "Send an NDJSON action/source stream to _bulk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required (use - for stdin)")
			}
			r, closeFn, err := openInput(cmd, file)
			if err != nil {
				return err
			}
			cmds, err := request.BulkFromNDJSON(r)
			closeFn()
			if err != nil {
				return err
			}
			defaults := request.Options{}
			if index != "" {
				defaults[request.BulkDefaultIndex] = index
			}
			if typ != "" {
				defaults[request.BulkDefaultType] = typ
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Bulk(ctx, cmds, append([]client.CallOption{client.WithOptions(defaults)}, opts...)...)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "NDJSON file (- for stdin)")
	cmd.Flags().StringVar(&index, "index", "", "default index for actions without _index")
	cmd.Flags().StringVar(&typ, "type", "", "default type for actions without _type")
	return cmd
}

func newPercolateCommand(cfg *cliConfig) *cobra.Command {
	var body bodyFlags
	cmd := &cobra.Command{
		Use:   "percolate <index> <type>",
		Short: "Match a document against registered queries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := body.read(cmd)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Percolate(ctx, args[0], args[1], optionalBody(data), opts...)
			})
		},
	}
	body.register(cmd, "percolate request")
	return cmd
}

func newPercolatorCommand(cfg *cliConfig) *cobra.Command {
	var body bodyFlags
	cmd := &cobra.Command{
		Use:   "percolator <index> <name>",
		Short: "Register a named query for percolation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := body.read(cmd)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Percolator(ctx, args[0], args[1], optionalBody(data), opts...)
			})
		},
	}
	body.register(cmd, "query")
	return cmd
}

func newMoreLikeThisCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "mlt <index> <type> <id>",
		Short: "Find documents similar to the given one",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.MoreLikeThis(ctx, args[0], args[1], args[2], opts...)
			})
		},
	}
}

func newDeleteCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <index> <type> <id>",
		Short: "Delete a document by id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.DeleteDocument(ctx, args[0], args[1], args[2], opts...)
			})
		},
	}
}

func newDeleteByQueryCommand(cfg *cliConfig) *cobra.Command {
	var body bodyFlags
	cmd := &cobra.Command{
		Use:   "delete-by-query <index> <type>",
		Short: "Delete every document matching a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := body.read(cmd)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.DeleteByQuery(ctx, args[0], args[1], optionalBody(data), opts...)
			})
		},
	}
	body.register(cmd, "query")
	return cmd
}

func newRawCommand(cfg *cliConfig) *cobra.Command {
	var body bodyFlags
	cmd := &cobra.Command{
		Use:   "raw <method> <path>",
		Short: "Send an arbitrary request, e.g. raw POST /kitchen/_refresh",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := body.read(cmd)
			if err != nil {
				return err
			}
			desc, err := request.Raw(args[0], args[1], optionalBody(data), nil)
			if err != nil {
				return fmt.Errorf("raw: %w", err)
			}
			return cfg.run(cmd, func(ctx context.Context, opts ...client.CallOption) (*client.Call, error) {
				return cfg.cli.Do(ctx, desc, opts...)
			})
		},
	}
	body.register(cmd, "request body")
	return cmd
}
