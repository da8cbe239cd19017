package request

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"pkt.systems/esclient/api"
)

// Option keys consumed by Bulk as per-command defaults. They are not sent
// as query parameters.
const (
	BulkDefaultIndex = "_index"
	BulkDefaultType  = "_type"
)

// BulkMeta is the metadata object of a bulk command line.
type BulkMeta struct {
	Index string
	Type  string
	ID    string
	// Params holds any further metadata (_routing, _version, ...).
	Params map[string]any
}

// MarshalJSON flattens Params next to _index, _type and _id.
func (m BulkMeta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Params)+3)
	maps.Copy(out, m.Params)
	if m.Index != "" {
		out["_index"] = m.Index
	}
	if m.Type != "" {
		out["_type"] = m.Type
	}
	if m.ID != "" {
		out["_id"] = m.ID
	}
	return json.Marshal(out)
}

// BulkCommand pairs a bulk action with its payload. Delete commands carry no
// Source.
type BulkCommand struct {
	Action api.BulkAction
	Meta   BulkMeta
	Source any
}

// Bulk encodes cmds as a newline-delimited body. The _index and _type
// options supply defaults for commands that leave them empty; remaining
// options become query parameters.
func Bulk(cmds []BulkCommand, opts Options) (Descriptor, error) {
	if len(cmds) == 0 {
		return Descriptor{}, invalid(OpBulk, "commands", "at least one command required")
	}
	defIndex, _, err := opts.stringOption(OpBulk, BulkDefaultIndex)
	if err != nil {
		return Descriptor{}, err
	}
	defType, _, err := opts.stringOption(OpBulk, BulkDefaultType)
	if err != nil {
		return Descriptor{}, err
	}
	query, err := opts.without(BulkDefaultIndex, BulkDefaultType).encode(OpBulk)
	if err != nil {
		return Descriptor{}, err
	}
	var buf bytes.Buffer
	for i, cmd := range cmds {
		field := fmt.Sprintf("command %d", i)
		if !cmd.Action.Valid() {
			return Descriptor{}, invalid(OpBulk, field, fmt.Sprintf("unknown action %q", cmd.Action))
		}
		meta := cmd.Meta
		if meta.Index == "" {
			meta.Index = defIndex
		}
		if meta.Type == "" {
			meta.Type = defType
		}
		if meta.Index == "" {
			return Descriptor{}, invalid(OpBulk, field, "missing _index and no default supplied")
		}
		if meta.Type == "" {
			return Descriptor{}, invalid(OpBulk, field, "missing _type and no default supplied")
		}
		if meta.ID == "" && (cmd.Action == api.BulkUpdate || cmd.Action == api.BulkDelete) {
			return Descriptor{}, invalid(OpBulk, field, fmt.Sprintf("%s requires _id", cmd.Action))
		}
		line, err := json.Marshal(map[api.BulkAction]BulkMeta{cmd.Action: meta})
		if err != nil {
			return Descriptor{}, invalid(OpBulk, field, err.Error())
		}
		buf.Write(line)
		buf.WriteByte('\n')
		if !cmd.Action.HasSource() {
			if cmd.Source != nil {
				return Descriptor{}, invalid(OpBulk, field, "delete takes no payload")
			}
			continue
		}
		source, err := requiredBody(OpBulk, field+" payload", cmd.Source)
		if err != nil {
			return Descriptor{}, err
		}
		buf.Write(source)
		buf.WriteByte('\n')
	}
	return Descriptor{
		Op:          OpBulk,
		Method:      http.MethodPost,
		Path:        []string{"_bulk"},
		Query:       query,
		Body:        buf.Bytes(),
		ContentType: ContentTypeNDJSON,
	}, nil
}

// BulkFromPairs converts the flat [command, payload, command, payload, ...]
// form into commands. Delete commands are not followed by a payload.
func BulkFromPairs(items []map[string]any) ([]BulkCommand, error) {
	cmds := make([]BulkCommand, 0, len(items)/2+1)
	for i := 0; i < len(items); i++ {
		cmd, err := commandFromAction(i, items[i])
		if err != nil {
			return nil, err
		}
		if cmd.Action.HasSource() {
			if i+1 >= len(items) {
				return nil, invalid(OpBulk, fmt.Sprintf("item %d", i), fmt.Sprintf("%s command without payload", cmd.Action))
			}
			i++
			cmd.Source = items[i]
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// BulkFromNDJSON reads newline-delimited command/payload pairs, the format
// the bulk endpoint itself accepts. Blank lines are skipped.
func BulkFromNDJSON(r io.Reader) ([]BulkCommand, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	var cmds []BulkCommand
	var pending *BulkCommand
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if pending != nil {
			if !json.Valid(raw) {
				return nil, invalid(OpBulk, fmt.Sprintf("line %d", line), "malformed JSON payload")
			}
			pending.Source = json.RawMessage(append([]byte(nil), raw...))
			cmds = append(cmds, *pending)
			pending = nil
			continue
		}
		var action map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&action); err != nil {
			return nil, invalid(OpBulk, fmt.Sprintf("line %d", line), err.Error())
		}
		cmd, err := commandFromAction(line, action)
		if err != nil {
			return nil, err
		}
		if cmd.Action.HasSource() {
			pending = &cmd
			continue
		}
		cmds = append(cmds, cmd)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("esclient: read bulk input: %w", err)
	}
	if pending != nil {
		return nil, invalid(OpBulk, fmt.Sprintf("line %d", line), fmt.Sprintf("%s command without payload", pending.Action))
	}
	return cmds, nil
}

func commandFromAction(pos int, item map[string]any) (BulkCommand, error) {
	field := fmt.Sprintf("item %d", pos)
	if len(item) != 1 {
		keys := make([]string, 0, len(item))
		for k := range item {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return BulkCommand{}, invalid(OpBulk, field, fmt.Sprintf("expected a single action key, got [%s]", strings.Join(keys, ",")))
	}
	for key, value := range item {
		action := api.BulkAction(key)
		if !action.Valid() {
			return BulkCommand{}, invalid(OpBulk, field, fmt.Sprintf("unknown action %q", key))
		}
		metaMap, ok := value.(map[string]any)
		if !ok && value != nil {
			return BulkCommand{}, invalid(OpBulk, field, fmt.Sprintf("%s metadata must be an object", key))
		}
		meta := BulkMeta{}
		for k, v := range metaMap {
			switch k {
			case "_index":
				meta.Index, ok = v.(string)
			case "_type":
				meta.Type, ok = v.(string)
			case "_id":
				meta.ID, ok = idString(v)
			default:
				if meta.Params == nil {
					meta.Params = make(map[string]any)
				}
				meta.Params[k] = v
				ok = true
			}
			if !ok {
				return BulkCommand{}, invalid(OpBulk, field, fmt.Sprintf("%s must be a string", k))
			}
		}
		return BulkCommand{Action: action, Meta: meta}, nil
	}
	return BulkCommand{}, invalid(OpBulk, field, "empty command")
}

// idString accepts string and integral numeric ids.
func idString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}
