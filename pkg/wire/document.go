package wire

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/gjson"
)

// Document is the generic payload of the structured framings.
type Document = map[string]any

// NewHeaderJSON frames a JSON document as serveAPI:<route>:<json>.
func NewHeaderJSON() Codec[Document] {
	return NonIntrusive[Document]{
		Marshal:   marshalJSON,
		Unmarshal: unmarshalJSON,
		Split:     SplitHeader,
	}
}

// NewDocumentJSON frames a JSON object carrying the route under "_route".
func NewDocumentJSON() Codec[Document] {
	return Intrusive[Document]{
		Marshal:   marshalJSON,
		Unmarshal: unmarshalJSON,
		Parse:     ParseDocument,
	}
}

// NewDocumentCBOR frames a CBOR map carrying the route under "_route".
func NewDocumentCBOR() Codec[Document] {
	return Intrusive[Document]{
		Marshal:   marshalCBOR,
		Unmarshal: unmarshalCBOR,
		Parse:     ParseDocument,
	}
}

// JSONHeader builds a frame understood by NewHeaderJSON.
func JSONHeader(route string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode payload: %w", logPrefix, err)
	}
	return append([]byte(Prefix+route+string(Separator)), body...), nil
}

// JSONDocument builds a frame understood by NewDocumentJSON.
func JSONDocument(route string, doc Document) ([]byte, error) {
	return json.Marshal(withRoute(route, doc))
}

// CBORDocument builds a frame understood by NewDocumentCBOR.
func CBORDocument(route string, doc Document) ([]byte, error) {
	return cbor.Marshal(withRoute(route, doc))
}

// ParseDocument extracts and strips the reserved route and id keys.
func ParseDocument(doc Document) (Message[Document], error) {
	raw, ok := doc[RouteKey]
	if !ok {
		return Message[Document]{}, fmt.Errorf("%s - %w", logPrefix, ErrMissingRoute)
	}
	route, ok := raw.(string)
	if !ok {
		return Message[Document]{}, fmt.Errorf("%s - _route is %T, not a string: %w", logPrefix, raw, ErrMissingRoute)
	}
	msg := Message[Document]{Route: route, Payload: make(Document, len(doc))}
	if id, ok := doc[IDKey].(string); ok {
		msg.ID = id
	}
	for k, v := range doc {
		if k == RouteKey || k == IDKey {
			continue
		}
		msg.Payload[k] = v
	}
	return msg, nil
}

func withRoute(route string, doc Document) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[RouteKey] = route
	return out
}

func marshalJSON(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

func unmarshalJSON(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s - %w", logPrefix, ErrEmptyPayload)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s - invalid JSON: %w", logPrefix, ErrMalformedDocument)
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return nil, fmt.Errorf("%s - JSON %s is not an object: %w", logPrefix, res.Type, ErrMalformedDocument)
	}
	doc, ok := res.Value().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s - JSON object expected: %w", logPrefix, ErrMalformedDocument)
	}
	return doc, nil
}

func marshalCBOR(doc Document) ([]byte, error) {
	return cbor.Marshal(doc)
}

func unmarshalCBOR(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s - %w", logPrefix, ErrEmptyPayload)
	}
	var doc Document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s - %w: %v", logPrefix, ErrMalformedDocument, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%s - CBOR map expected: %w", logPrefix, ErrMalformedDocument)
	}
	return doc, nil
}
