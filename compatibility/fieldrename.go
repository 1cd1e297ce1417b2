package compatibility

import "github.com/BaSui01/llmrouter/types"

// FieldRename maps canonical field names to vendor-specific names on the
// request side, and back on the response side (§4.3). cfg.FieldRenames is
// keyed by canonical path; the vendor path is the map value.
type FieldRename struct{}

func (FieldRename) Name() string { return "field_rename" }

func (FieldRename) ApplyRequest(body types.DialectBody, cfg Config) (types.DialectBody, error) {
	var err error
	for canonicalPath, vendorPath := range cfg.FieldRenames {
		v, ok := body.Get(canonicalPath)
		if !ok {
			continue
		}
		body, err = body.SetRaw(vendorPath, v.Raw)
		if err != nil {
			return types.DialectBody{}, err
		}
		body, err = body.Delete(canonicalPath)
		if err != nil {
			return types.DialectBody{}, err
		}
	}
	return body, nil
}

func (FieldRename) ApplyResponse(body types.DialectBody, cfg Config) (types.DialectBody, error) {
	var err error
	for canonicalPath, vendorPath := range cfg.FieldRenames {
		v, ok := body.Get(vendorPath)
		if !ok {
			continue
		}
		body, err = body.SetRaw(canonicalPath, v.Raw)
		if err != nil {
			return types.DialectBody{}, err
		}
		body, err = body.Delete(vendorPath)
		if err != nil {
			return types.DialectBody{}, err
		}
	}
	return body, nil
}
