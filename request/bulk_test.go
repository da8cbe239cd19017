package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"pkt.systems/esclient/api"
)

func decodeLines(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	if !bytes.HasSuffix(body, []byte("\n")) {
		t.Fatalf("bulk body must end with newline: %q", body)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSuffix(string(body), "\n"), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestBulkAppliesDefaults(t *testing.T) {
	cmds := []BulkCommand{
		{Action: api.BulkIndex, Meta: BulkMeta{ID: "1"}, Source: map[string]any{"name": "sushi"}},
		{Action: api.BulkIndex, Meta: BulkMeta{Index: "other", ID: "2"}, Source: map[string]any{"name": "ramen"}},
		{Action: api.BulkDelete, Meta: BulkMeta{ID: "3"}},
	}
	desc, err := Bulk(cmds, Options{"_index": "kitchen", "_type": "dish", "refresh": true})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if desc.Method != http.MethodPost || desc.URLPath() != "/_bulk" {
		t.Fatalf("unexpected descriptor %s %s", desc.Method, desc.URLPath())
	}
	if desc.ContentType != ContentTypeNDJSON {
		t.Fatalf("expected ndjson content type, got %q", desc.ContentType)
	}
	if desc.Query.Get("refresh") != "true" {
		t.Fatalf("expected refresh query param, got %v", desc.Query)
	}
	if desc.Query.Has("_index") || desc.Query.Has("_type") {
		t.Fatalf("defaults leaked into query: %v", desc.Query)
	}
	lines := decodeLines(t, desc.Body)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	first := lines[0]["index"].(map[string]any)
	if first["_index"] != "kitchen" || first["_type"] != "dish" || first["_id"] != "1" {
		t.Fatalf("defaults not applied: %v", first)
	}
	second := lines[2]["index"].(map[string]any)
	if second["_index"] != "other" || second["_type"] != "dish" {
		t.Fatalf("explicit index overridden: %v", second)
	}
	del := lines[4]["delete"].(map[string]any)
	if del["_index"] != "kitchen" || del["_id"] != "3" {
		t.Fatalf("delete defaults not applied: %v", del)
	}
}

func TestBulkRequiresIndexAndType(t *testing.T) {
	cmds := []BulkCommand{{Action: api.BulkIndex, Source: map[string]any{"a": 1}}}
	if _, err := Bulk(cmds, nil); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected invalid arguments without defaults, got %v", err)
	}
	if _, err := Bulk(cmds, Options{"_index": 7, "_type": "dish"}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected invalid arguments for non-string default, got %v", err)
	}
}

func TestBulkValidatesCommands(t *testing.T) {
	opts := Options{"_index": "kitchen", "_type": "dish"}
	cases := map[string][]BulkCommand{
		"empty":              nil,
		"unknown action":     {{Action: "upsert", Source: map[string]any{}}},
		"delete without id":  {{Action: api.BulkDelete}},
		"update without id":  {{Action: api.BulkUpdate, Source: map[string]any{"doc": map[string]any{}}}},
		"delete with body":   {{Action: api.BulkDelete, Meta: BulkMeta{ID: "1"}, Source: map[string]any{}}},
		"index without body": {{Action: api.BulkIndex, Meta: BulkMeta{ID: "1"}}},
	}
	for name, cmds := range cases {
		if _, err := Bulk(cmds, opts); !errors.Is(err, ErrInvalidArguments) {
			t.Fatalf("%s: expected invalid arguments, got %v", name, err)
		}
	}
}

func TestBulkMetaParams(t *testing.T) {
	desc, err := Bulk([]BulkCommand{{
		Action: api.BulkIndex,
		Meta:   BulkMeta{Index: "kitchen", Type: "dish", ID: "1", Params: map[string]any{"_routing": "r1"}},
		Source: map[string]any{"name": "sushi"},
	}}, nil)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	lines := decodeLines(t, desc.Body)
	meta := lines[0]["index"].(map[string]any)
	if meta["_routing"] != "r1" {
		t.Fatalf("expected routing param, got %v", meta)
	}
}

func TestBulkFromPairs(t *testing.T) {
	items := []map[string]any{
		{"index": map[string]any{"_id": "1"}},
		{"name": "sushi"},
		{"delete": map[string]any{"_id": float64(2)}},
		{"update": map[string]any{"_id": "3", "_index": "other"}},
		{"doc": map[string]any{"name": "maki"}},
	}
	cmds, err := BulkFromPairs(items)
	if err != nil {
		t.Fatalf("from pairs: %v", err)
	}
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}
	if cmds[1].Action != api.BulkDelete || cmds[1].Meta.ID != "2" || cmds[1].Source != nil {
		t.Fatalf("unexpected delete command %+v", cmds[1])
	}
	if cmds[2].Meta.Index != "other" {
		t.Fatalf("expected explicit index, got %+v", cmds[2])
	}
	if _, err := Bulk(cmds, Options{"_index": "kitchen", "_type": "dish"}); err != nil {
		t.Fatalf("bulk from pairs: %v", err)
	}
	if _, err := BulkFromPairs([]map[string]any{{"index": map[string]any{}}}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected invalid arguments for missing payload, got %v", err)
	}
	if _, err := BulkFromPairs([]map[string]any{{"index": map[string]any{}, "delete": map[string]any{}}}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected invalid arguments for ambiguous action, got %v", err)
	}
}

func TestBulkFromNDJSON(t *testing.T) {
	input := strings.Join([]string{
		`{"index":{"_index":"kitchen","_type":"dish","_id":1}}`,
		`{"name":"sushi"}`,
		``,
		`{"delete":{"_index":"kitchen","_type":"dish","_id":"2"}}`,
	}, "\n")
	cmds, err := BulkFromNDJSON(strings.NewReader(input))
	if err != nil {
		t.Fatalf("from ndjson: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}
	if cmds[0].Meta.ID != "1" {
		t.Fatalf("expected numeric id converted, got %q", cmds[0].Meta.ID)
	}
	desc, err := Bulk(cmds, nil)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if got := strings.Count(string(desc.Body), "\n"); got != 3 {
		t.Fatalf("expected 3 lines, got %d", got)
	}
	if _, err := BulkFromNDJSON(strings.NewReader(`{"index":{"_id":"1"}}`)); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected invalid arguments for trailing command, got %v", err)
	}
}
