package request

import (
	"net/http"
	"strings"
)

// Scope narrows search and count to an index, or an index and a type. The
// zero value targets every index.
type Scope struct {
	Index string
	Type  string
}

// All targets every index and type.
func All() Scope { return Scope{} }

// InIndex targets a single index across all of its types.
func InIndex(index string) Scope { return Scope{Index: index} }

// InType targets one type inside one index.
func InType(index, typ string) Scope { return Scope{Index: index, Type: typ} }

func (s Scope) segments(op string) ([]string, error) {
	index := strings.TrimSpace(s.Index)
	typ := strings.TrimSpace(s.Type)
	if index == "" && typ != "" {
		return nil, invalid(op, "scope", "type given without index")
	}
	return segments(index, typ), nil
}

// QueryString is a Lucene query string, sent as the q parameter.
type QueryString string

// DocRef addresses one document in a multiget request.
type DocRef struct {
	ID      string   `json:"_id"`
	Index   string   `json:"_index,omitempty"`
	Type    string   `json:"_type,omitempty"`
	Fields  []string `json:"fields,omitempty"`
	Routing string   `json:"_routing,omitempty"`
}

func jsonDescriptor(op, method string, path []string, body []byte, opts Options) (Descriptor, error) {
	query, err := opts.encode(op)
	if err != nil {
		return Descriptor{}, err
	}
	desc := Descriptor{
		Op:     op,
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
	}
	if body != nil {
		desc.ContentType = ContentTypeJSON
	}
	return desc, nil
}

// Index stores doc under index, and typ when given. With an id the document
// is written to that exact id (PUT); without one the server assigns an id
// (POST).
func Index(index, typ, id string, doc any, opts Options) (Descriptor, error) {
	if err := required(OpIndex, "index", index); err != nil {
		return Descriptor{}, err
	}
	body, err := requiredBody(OpIndex, "document", doc)
	if err != nil {
		return Descriptor{}, err
	}
	method := http.MethodPost
	if id != "" {
		method = http.MethodPut
	}
	return jsonDescriptor(OpIndex, method, segments(index, typ, id), body, opts)
}

// Get fetches a document. An empty id addresses the type itself.
func Get(index, typ, id string, opts Options) (Descriptor, error) {
	if err := required(OpGet, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpGet, "type", typ); err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpGet, http.MethodGet, segments(index, typ, id), nil, opts)
}

// Multiget fetches several documents of one type by id.
func Multiget(index, typ string, ids []string, opts Options) (Descriptor, error) {
	if err := required(OpMultiget, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpMultiget, "type", typ); err != nil {
		return Descriptor{}, err
	}
	if len(ids) == 0 {
		return Descriptor{}, invalid(OpMultiget, "ids", "at least one id required")
	}
	for _, id := range ids {
		if err := required(OpMultiget, "ids", id); err != nil {
			return Descriptor{}, err
		}
	}
	body, err := encodeBody(OpMultiget, "ids", struct {
		IDs []string `json:"ids"`
	}{IDs: ids})
	if err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpMultiget, http.MethodPost, segments(index, typ, "_mget"), body, opts)
}

// MultigetDocs fetches several documents by reference. References without
// an index or type inherit the ones in the path.
func MultigetDocs(index, typ string, docs []DocRef, opts Options) (Descriptor, error) {
	if err := required(OpMultiget, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpMultiget, "type", typ); err != nil {
		return Descriptor{}, err
	}
	if len(docs) == 0 {
		return Descriptor{}, invalid(OpMultiget, "docs", "at least one document reference required")
	}
	for _, ref := range docs {
		if err := required(OpMultiget, "docs._id", ref.ID); err != nil {
			return Descriptor{}, err
		}
	}
	body, err := encodeBody(OpMultiget, "docs", struct {
		Docs []DocRef `json:"docs"`
	}{Docs: docs})
	if err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpMultiget, http.MethodPost, segments(index, typ, "_mget"), body, opts)
}

// Update applies a partial update such as {"doc": {...}} to an existing
// document.
func Update(index, typ, id string, body any, opts Options) (Descriptor, error) {
	if err := required(OpUpdate, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpUpdate, "type", typ); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpUpdate, "id", id); err != nil {
		return Descriptor{}, err
	}
	raw, err := requiredBody(OpUpdate, "body", body)
	if err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpUpdate, http.MethodPost, segments(index, typ, id, "_update"), raw, opts)
}

// Search runs a query DSL document against scope.
func Search(scope Scope, query any, opts Options) (Descriptor, error) {
	path, err := scope.segments(OpSearch)
	if err != nil {
		return Descriptor{}, err
	}
	body, err := requiredBody(OpSearch, "query", query)
	if err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpSearch, http.MethodPost, append(path, "_search"), body, opts)
}

// Count counts documents matching a query DSL object. A nil query counts
// everything in scope.
func Count(scope Scope, query any, opts Options) (Descriptor, error) {
	path, err := scope.segments(OpCount)
	if err != nil {
		return Descriptor{}, err
	}
	body, err := encodeBody(OpCount, "query", query)
	if err != nil {
		return Descriptor{}, err
	}
	method := http.MethodGet
	if body != nil {
		method = http.MethodPost
	}
	return jsonDescriptor(OpCount, method, append(path, "_count"), body, opts)
}

// CountQuery counts documents matching a query string such as "name:sushi".
func CountQuery(scope Scope, q QueryString, opts Options) (Descriptor, error) {
	path, err := scope.segments(OpCount)
	if err != nil {
		return Descriptor{}, err
	}
	if err := required(OpCount, "query string", string(q)); err != nil {
		return Descriptor{}, err
	}
	merged := opts.Merge(Options{"q": string(q)})
	return jsonDescriptor(OpCount, http.MethodGet, append(path, "_count"), nil, merged)
}

// Percolate matches doc against the queries registered for index/typ.
func Percolate(index, typ string, doc any, opts Options) (Descriptor, error) {
	if err := required(OpPercolate, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpPercolate, "type", typ); err != nil {
		return Descriptor{}, err
	}
	body, err := requiredBody(OpPercolate, "document", doc)
	if err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpPercolate, http.MethodPost, segments(index, typ, "_percolate"), body, opts)
}

// Percolator registers query under name so that later percolate calls
// against index match it.
func Percolator(index, name string, query any, opts Options) (Descriptor, error) {
	if err := required(OpPercolator, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpPercolator, "name", name); err != nil {
		return Descriptor{}, err
	}
	body, err := requiredBody(OpPercolator, "query", query)
	if err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpPercolator, http.MethodPut, segments("_percolator", index, name), body, opts)
}

// DeleteDocument removes one document. It addresses the same path as Get.
func DeleteDocument(index, typ, id string, opts Options) (Descriptor, error) {
	if err := required(OpDeleteDocument, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpDeleteDocument, "type", typ); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpDeleteDocument, "id", id); err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpDeleteDocument, http.MethodDelete, segments(index, typ, id), nil, opts)
}

// DeleteByQuery removes every document of index/typ matching query.
func DeleteByQuery(index, typ string, query any, opts Options) (Descriptor, error) {
	if err := required(OpDeleteByQuery, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpDeleteByQuery, "type", typ); err != nil {
		return Descriptor{}, err
	}
	body, err := requiredBody(OpDeleteByQuery, "query", query)
	if err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpDeleteByQuery, http.MethodDelete, segments(index, typ, "_query"), body, opts)
}

// MoreLikeThis finds documents similar to index/typ/id. Similarity settings
// (mlt_fields, min_term_freq, ...) travel as options.
func MoreLikeThis(index, typ, id string, opts Options) (Descriptor, error) {
	if err := required(OpMoreLikeThis, "index", index); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpMoreLikeThis, "type", typ); err != nil {
		return Descriptor{}, err
	}
	if err := required(OpMoreLikeThis, "id", id); err != nil {
		return Descriptor{}, err
	}
	return jsonDescriptor(OpMoreLikeThis, http.MethodGet, segments(index, typ, id, "_mlt"), nil, opts)
}
