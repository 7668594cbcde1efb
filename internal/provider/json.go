package provider

import (
	"bytes"
	"encoding/json"
)

// JSONScalar возвращает строковое представление JSON-значения: строку без кавычек,
// число как есть, пустую строку для null, объектов и массивов.
func JSONScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}
