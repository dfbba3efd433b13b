package packet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
)

var (
	errMissingLayers    = errors.New("missing _source.layers")
	errMissingProtocols = errors.New("missing frame.protocols")
)

// tsharkPacket is one element of `tshark -T json` output.
type tsharkPacket struct {
	Source struct {
		Layers layerObject `json:"layers"`
	} `json:"_source"`
}

// layerObject is a JSON object decoded with repeated keys kept. tshark
// repeats a key when a protocol appears twice in a packet or a field has
// several expert items; the occurrences are merged into an array in input
// order instead of the last one winning.
type layerObject map[string]any

func (l *layerObject) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	switch m := v.(type) {
	case nil:
		*l = nil
	case map[string]any:
		*l = m
	default:
		return fmt.Errorf("layers: expected an object, got %T", v)
	}
	return nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := kt.(string)
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			if prev, dup := m[key]; dup {
				v = mergeRepeated(prev, v)
			}
			m[key] = v
		}
		_, err := dec.Token()
		return m, err
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		_, err := dec.Token()
		return arr, err
	}
	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

func mergeRepeated(prev, v any) any {
	if arr, ok := prev.(repeated); ok {
		return append(arr, v)
	}
	return repeated{prev, v}
}

// repeated holds the occurrences of a repeated key.
type repeated []any

// Decode reads a `tshark -T json` array from r into a window of at most max
// records. Decoding stops as soon as the window is full; whether more
// packets followed is detected without decoding them.
//
// Elements that are valid JSON but not packet-shaped are skipped and
// counted. A syntax error in the stream ends decoding: the records read so
// far are returned together with a malformed_output error.
func Decode(r io.Reader, max int) (*Window, error) {
	w := NewWindow(max)
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err == io.EOF {
		return w, nil
	}
	if err != nil {
		return w, apperrors.Wrap(apperrors.KindMalformedOutput, err, "read analyzer output")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return w, apperrors.New(apperrors.KindMalformedOutput, "analyzer output is not a JSON array")
	}

	for dec.More() {
		if w.Full() {
			w.MarkTruncated()
			return w, nil
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return w, apperrors.Wrap(apperrors.KindMalformedOutput, err,
				"decode packet after %d records", w.Len()+w.Skipped())
		}
		rec, err := ParseRecord(raw)
		if err != nil {
			w.Skip()
			continue
		}
		w.Add(rec)
	}
	if _, err := dec.Token(); err != nil {
		return w, apperrors.Wrap(apperrors.KindMalformedOutput, err, "analyzer output ended early")
	}
	return w, nil
}

// ParseRecord decodes a single tshark JSON packet object.
func ParseRecord(raw []byte) (Record, error) {
	var pkt tsharkPacket
	if err := json.Unmarshal(raw, &pkt); err != nil {
		return Record{}, fmt.Errorf("parse packet: %w", err)
	}
	if pkt.Source.Layers == nil {
		return Record{}, errMissingLayers
	}
	return NewRecord(FlattenLayers(pkt.Source.Layers))
}

// FlattenLayers flattens tshark's nested layer objects into a single field
// map. Both the full dissection shape ("ip": {"ip.src": "..."}) and the
// field-list shape ("ip.src": ["..."]) are accepted. Keys whose value is an
// object are recorded as present with an empty value.
func FlattenLayers(layers map[string]any) Fields {
	out := make(Fields)
	flattenInto(out, layers)
	return out
}

func flattenInto(out Fields, m map[string]any) {
	// sorted for deterministic merging of repeated keys
	for _, key := range slices.Sorted(maps.Keys(m)) {
		flattenValue(out, key, m[key])
	}
}

func flattenValue(out Fields, key string, val any) {
	switch v := val.(type) {
	case map[string]any:
		markPresent(out, key)
		flattenInto(out, v)
	case []any:
		markPresent(out, key)
		for _, item := range v {
			flattenValue(out, key, item)
		}
	case repeated:
		for _, item := range v {
			flattenValue(out, key, item)
		}
	case string:
		setValue(out, key, v)
	case float64:
		setValue(out, key, strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		setValue(out, key, strconv.FormatBool(v))
	case nil:
		markPresent(out, key)
	}
}

func markPresent(out Fields, key string) {
	if _, ok := out[key]; !ok {
		out[key] = ""
	}
}

// setValue joins repeated occurrences with "," like tshark -T fields does.
func setValue(out Fields, key, v string) {
	cur, ok := out[key]
	switch {
	case !ok || cur == "":
		out[key] = v
	case v == "":
	default:
		out[key] = cur + "," + v
	}
}

// NormalizeLayers canonicalizes frame.protocols entries: trimmed and
// lower-cased, pseudo layers removed, consecutive duplicates collapsed.
func NormalizeLayers(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || isPseudoLayer(name) {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == name {
			continue
		}
		out = append(out, name)
	}
	return out
}

func isPseudoLayer(name string) bool {
	return name == "ethertype" || strings.HasPrefix(name, "_ws.")
}
