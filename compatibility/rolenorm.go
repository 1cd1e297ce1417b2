package compatibility

import (
	"strings"

	"github.com/BaSui01/llmrouter/types"
)

// RoleNormalization merges consecutive same-role messages when the provider
// forbids adjacent duplicates (§4.3). It is request-side only: a response
// never carries a messages array to normalize.
type RoleNormalization struct{}

func (RoleNormalization) Name() string { return "role_normalization" }

func (RoleNormalization) ApplyRequest(body types.DialectBody, cfg Config) (types.DialectBody, error) {
	if !cfg.MergeConsecutiveRoles {
		return body, nil
	}
	messages, ok := body.Get("messages")
	if !ok || !messages.IsArray() {
		return body, nil
	}

	items := messages.Array()
	merged := make([]string, 0, len(items))
	for _, item := range items {
		role := item.Get("role").String()
		content := item.Get("content").String()

		if len(merged) > 0 {
			prevRole := gjsonRole(merged[len(merged)-1])
			if prevRole == role {
				merged[len(merged)-1] = mergeMessageJSON(merged[len(merged)-1], content)
				continue
			}
		}
		merged = append(merged, item.Raw)
	}

	out, err := body.SetRaw("messages", "["+strings.Join(merged, ",")+"]")
	if err != nil {
		return types.DialectBody{}, err
	}
	return out, nil
}

func (RoleNormalization) ApplyResponse(body types.DialectBody, _ Config) (types.DialectBody, error) {
	return body, nil
}

func gjsonRole(raw string) string {
	return types.NewDialectBody([]byte(raw)).String("role")
}

// mergeMessageJSON appends extraContent to the existing message's content
// field, joined by a blank line, matching how a human-authored transcript
// would read after collapsing two consecutive turns from the same role.
func mergeMessageJSON(raw string, extraContent string) string {
	db := types.NewDialectBody([]byte(raw))
	existing := db.String("content")
	merged := existing
	if extraContent != "" {
		if merged != "" {
			merged += "\n\n"
		}
		merged += extraContent
	}
	out, err := db.Set("content", merged)
	if err != nil {
		return raw
	}
	return string(out.Bytes())
}
