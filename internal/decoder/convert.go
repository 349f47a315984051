// File: internal/decoder/convert.go
package decoder

import (
	"github.com/soroscan/soroscan/pkg/utils"
	"github.com/stellar/go/xdr"
)

// ToJSON converts a base64 XDR ScVal into a generic JSON-compatible value
// without consulting an ABI. Used for the raw payload column and for
// alert-rule evaluation on contracts with no uploaded ABI.
func ToJSON(rawXDR string) (interface{}, error) {
	if rawXDR == "" {
		return nil, nil
	}
	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(rawXDR, &val); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDecode, "Failed to parse value XDR", err.Error())
	}
	if native, ok := toNative(val); ok {
		return native, nil
	}
	return scValString(val), nil
}

// EventTypeFromTopics extracts the event type from a topic list: the first
// topic is conventionally a symbol naming the event. Returns "" when the
// topic list is empty or the first topic is not symbol-like.
func EventTypeFromTopics(topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(topics[0], &val); err != nil {
		return ""
	}
	switch val.Type {
	case xdr.ScValTypeScvSymbol:
		if sym, ok := val.GetSym(); ok {
			return string(sym)
		}
	case xdr.ScValTypeScvString:
		if str, ok := val.GetStr(); ok {
			return string(str)
		}
	}
	return ""
}
