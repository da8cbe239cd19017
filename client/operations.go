package client

import (
	"context"

	"pkt.systems/esclient/request"
)

// prepare turns a built descriptor into a Call. Builder failures are
// returned as is and never reach the handler.
func (c *Client) prepare(ctx context.Context, desc request.Descriptor, buildErr error, cfg callConfig) (*Call, error) {
	ctx = ensureCorrelation(ctx)
	if buildErr != nil {
		c.logDebugCtx(ctx, "client.call.invalid", "error", buildErr)
		return nil, buildErr
	}
	call := newCall(c, ctx, desc, cfg.handler)
	mode := "deferred"
	if cfg.handler != nil {
		mode = "callback"
	}
	c.logTraceCtx(ctx, "client.call.build", "op", desc.Op, "method", desc.Method, "path", desc.URLPath(), "mode", mode)
	if cfg.handler != nil {
		call.start()
	}
	return call, nil
}

// Index stores doc under index/typ. An empty id lets the server assign one.
func (c *Client) Index(ctx context.Context, index, typ, id string, doc any, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Index(index, typ, id, doc, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Get fetches index/typ/id. Use the fields option to restrict the returned
// source.
func (c *Client) Get(ctx context.Context, index, typ, id string, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Get(index, typ, id, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Multiget fetches several documents of index/typ by id.
func (c *Client) Multiget(ctx context.Context, index, typ string, ids []string, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Multiget(index, typ, ids, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// MultigetDocs fetches several documents by reference.
func (c *Client) MultigetDocs(ctx context.Context, index, typ string, docs []request.DocRef, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.MultigetDocs(index, typ, docs, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Update applies body, typically {"doc": {...}}, to an existing document.
func (c *Client) Update(ctx context.Context, index, typ, id string, body any, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Update(index, typ, id, body, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Search runs query against scope. The zero Scope searches every index.
func (c *Client) Search(ctx context.Context, scope request.Scope, query any, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Search(scope, query, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Bulk sends cmds in one request. The _index and _type options fill in
// commands that leave them empty.
func (c *Client) Bulk(ctx context.Context, cmds []request.BulkCommand, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Bulk(cmds, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Count counts documents in scope matching a query object. A nil query
// counts every document.
func (c *Client) Count(ctx context.Context, scope request.Scope, query any, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Count(scope, query, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// CountQuery counts documents in scope matching a query string such as
// "name:sushi".
func (c *Client) CountQuery(ctx context.Context, scope request.Scope, q string, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.CountQuery(scope, request.QueryString(q), cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Percolate matches doc against the queries registered for index/typ.
func (c *Client) Percolate(ctx context.Context, index, typ string, doc any, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Percolate(index, typ, doc, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Percolator registers query under name for index.
func (c *Client) Percolator(ctx context.Context, index, name string, query any, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.Percolator(index, name, query, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// MoreLikeThis finds documents similar to index/typ/id.
func (c *Client) MoreLikeThis(ctx context.Context, index, typ, id string, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.MoreLikeThis(index, typ, id, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// DeleteDocument removes index/typ/id.
func (c *Client) DeleteDocument(ctx context.Context, index, typ, id string, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.DeleteDocument(index, typ, id, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// DeleteByQuery removes every document of index/typ matching query.
func (c *Client) DeleteByQuery(ctx context.Context, index, typ string, query any, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	desc, err := request.DeleteByQuery(index, typ, query, cfg.opts)
	return c.prepare(ctx, desc, err, cfg)
}

// Do dispatches a caller-built descriptor, for endpoints without a typed
// operation. Options are merged into the descriptor's query string.
func (c *Client) Do(ctx context.Context, desc request.Descriptor, args ...CallOption) (*Call, error) {
	cfg := resolveCallOptions(args)
	if desc.Op == "" {
		desc.Op = request.OpRaw
	}
	err := desc.Validate()
	if err == nil {
		desc, err = desc.WithOptions(cfg.opts)
	}
	return c.prepare(ctx, desc, err, cfg)
}
