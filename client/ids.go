package client

import "github.com/rs/xid"

// NewDocumentID returns a globally unique, sortable 20 character id suitable
// for indexing a document under a client-chosen id.
func NewDocumentID() string {
	return xid.New().String()
}
