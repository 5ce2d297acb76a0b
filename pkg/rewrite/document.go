package rewrite

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/atlassian/apicompat"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/yaml"
)

type DocumentKind int

const (
	// OpaqueBytes is a body that must be replayed as is.
	OpaqueBytes DocumentKind = iota
	// RewritableDocument is a structured resource document with a string "apiVersion" field.
	RewritableDocument
)

func (k DocumentKind) String() string {
	switch k {
	case RewritableDocument:
		return "RewritableDocument"
	default:
		return "OpaqueBytes"
	}
}

// Document is a request body classified by whether its API version can be rewritten.
type Document struct {
	Kind DocumentKind
	raw  []byte
	// data is the JSON form of raw. Same bytes as raw for JSON input.
	data []byte
	// apiVersion holds the positions of the top-level "apiVersion" values in data.
	apiVersion []Span
	obj        *unstructured.Unstructured
}

// ParseDocument accepts JSON or YAML. Anything that is not an object with a string
// "apiVersion" field is OpaqueBytes.
func ParseDocument(raw []byte) Document {
	opaque := Document{Kind: OpaqueBytes, raw: raw}
	if len(bytes.TrimSpace(raw)) == 0 {
		return opaque
	}
	data := raw
	if !json.Valid(raw) {
		var err error
		data, err = yaml.YAMLToJSON(raw)
		if err != nil {
			return opaque
		}
	}
	var obj map[string]interface{}
	// utiljson keeps integers as int64 instead of float64
	if err := utiljson.Unmarshal(data, &obj); err != nil || obj == nil {
		return opaque
	}
	if _, ok := obj[apicompat.APIVersionField].(string); !ok {
		return opaque
	}
	spans, err := fieldValueSpans(data, apicompat.APIVersionField)
	if err != nil || len(spans) == 0 {
		return opaque
	}
	return Document{
		Kind:       RewritableDocument,
		raw:        raw,
		data:       data,
		apiVersion: spans,
		obj:        &unstructured.Unstructured{Object: obj},
	}
}

// Raw returns the bytes the document was parsed from.
func (d Document) Raw() []byte {
	return d.raw
}

// Object returns a copy of the decoded object, nil for OpaqueBytes.
func (d Document) Object() *unstructured.Unstructured {
	if d.obj == nil {
		return nil
	}
	return d.obj.DeepCopy()
}

// WithAPIVersion returns the JSON document with the "apiVersion" value replaced in place.
// Every other byte of a JSON input is kept as is. YAML input comes back in its JSON form.
// OpaqueBytes are returned unchanged.
func (d Document) WithAPIVersion(apiVersion string) ([]byte, error) {
	if d.Kind != RewritableDocument {
		return d.raw, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(apiVersion); err != nil {
		return nil, errors.WithStack(err)
	}
	value := strings.TrimSuffix(buf.String(), "\n")
	spans := make([]Span, 0, len(d.apiVersion))
	for _, sp := range d.apiVersion {
		sp.Replacement = value
		spans = append(spans, sp)
	}
	return []byte(ApplySpans(string(d.data), spans...)), nil
}

// fieldValueSpans returns the positions of the string values of a top-level field of a JSON object.
// Duplicate keys yield one span each.
func fieldValueSpans(data []byte, field string) ([]Span, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("not a JSON object")
	}
	var spans []Span
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		keyEnd := int(dec.InputOffset())
		if key, _ := tok.(string); key != field {
			var skip json.RawMessage
			if err = dec.Decode(&skip); err != nil {
				return nil, errors.WithStack(err)
			}
			continue
		}
		tok, err = dec.Token()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if _, ok := tok.(string); !ok {
			return nil, errors.Errorf("%q is not a string", field)
		}
		end := int(dec.InputOffset())
		// Only whitespace and the colon separate the key from the opening quote
		start := keyEnd + bytes.IndexByte(data[keyEnd:end], '"')
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans, nil
}
