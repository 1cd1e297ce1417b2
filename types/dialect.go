package types

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Dialect is one of the three client-facing wire protocols.
type Dialect string

const (
	DialectChat       Dialect = "chat"
	DialectResponses  Dialect = "responses"
	DialectAnthropic  Dialect = "anthropic-messages"
	EntryChatEndpoint         = "/v1/chat/completions"
	EntryResponses            = "/v1/responses"
	EntryMessages             = "/v1/messages"
)

// DialectBody is §9's tagged-variant answer to the source's pervasive
// untyped maps: raw dialect JSON, read and rewritten field-by-field through
// gjson/sjson by the compatibility patches and forwarded byte-for-byte in
// passthrough mode. The dialect codecs decode it with encoding/json into wire
// structs that cover only the fields they translate.
type DialectBody struct {
	raw []byte
}

// NewDialectBody wraps raw dialect-native JSON.
func NewDialectBody(raw []byte) DialectBody {
	// copy to avoid aliasing a caller-owned buffer across retries
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return DialectBody{raw: cp}
}

// Bytes returns the raw JSON, unmodified. Used for passthrough mode (§4.6)
// and for forwarding the opaque remainder of a body a codec didn't touch.
func (b DialectBody) Bytes() []byte { return b.raw }

func (b DialectBody) IsZero() bool { return len(b.raw) == 0 }

// Get reads one field by gjson path; ok is false if the path is absent.
func (b DialectBody) Get(path string) (gjson.Result, bool) {
	r := gjson.GetBytes(b.raw, path)
	return r, r.Exists()
}

// String is a convenience wrapper over Get for string-typed fields.
func (b DialectBody) String(path string) string {
	r, _ := b.Get(path)
	return r.String()
}

// Bool is a convenience wrapper over Get for bool-typed fields.
func (b DialectBody) Bool(path string) (bool, bool) {
	r, ok := b.Get(path)
	if !ok {
		return false, false
	}
	return r.Bool(), true
}

// Set returns a new DialectBody with path rewritten to value, leaving every
// other field untouched — the field-rename and thinking-flag compatibility
// patches (§4.3) are built from chained Set calls.
func (b DialectBody) Set(path string, value any) (DialectBody, error) {
	out, err := sjson.SetBytes(b.raw, path, value)
	if err != nil {
		return DialectBody{}, err
	}
	return DialectBody{raw: out}, nil
}

// SetRaw is like Set but value is already-encoded JSON, not a Go value to
// be marshalled — used when composing a tool-arguments string back into a
// body field.
func (b DialectBody) SetRaw(path string, rawValue string) (DialectBody, error) {
	out, err := sjson.SetRawBytes(b.raw, path, []byte(rawValue))
	if err != nil {
		return DialectBody{}, err
	}
	return DialectBody{raw: out}, nil
}

// Delete returns a new DialectBody with path removed.
func (b DialectBody) Delete(path string) (DialectBody, error) {
	out, err := sjson.DeleteBytes(b.raw, path)
	if err != nil {
		return DialectBody{}, err
	}
	return DialectBody{raw: out}, nil
}
