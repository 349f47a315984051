// Package decoder turns raw Soroban event payloads (base64 XDR ScVal) into
// named fields using per-contract ABI definitions. Decoding never blocks
// event persistence: failures surface as statuses, not propagated errors.
package decoder

import (
	"github.com/stellar/go/xdr"

	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/pkg/utils"
)

// Decode decodes rawXDR into a named-field map using the ABI event
// definitions. The bool result reports whether a definition matching
// eventType exists; false is not an error. A non-nil error means the XDR
// itself could not be parsed, which callers record as decoding_status=failed.
func Decode(rawXDR string, defs []models.EventDef, eventType string) (map[string]interface{}, bool, error) {
	var def *models.EventDef
	for i := range defs {
		if defs[i].Name == eventType {
			def = &defs[i]
			break
		}
	}
	if def == nil {
		return nil, false, nil
	}

	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(rawXDR, &val); err != nil {
		return nil, true, utils.NewAppError(utils.ErrCodeDecode, "Failed to parse event XDR", err.Error())
	}

	fields := def.Fields
	if len(fields) == 0 {
		return map[string]interface{}{}, true, nil
	}

	result := make(map[string]interface{}, len(fields))

	if val.Type == xdr.ScValTypeScvVec && val.Vec != nil && *val.Vec != nil {
		// Soroban events typically encode their data as an ScVec: map
		// elements positionally to the defined fields, padding with nulls.
		items := **val.Vec
		for i, field := range fields {
			if i < len(items) {
				result[field.Name] = decodeField(items[i], field.Type)
			} else {
				result[field.Name] = nil
			}
		}
		return result, true, nil
	}

	if len(fields) == 1 {
		result[fields[0].Name] = decodeField(val, fields[0].Type)
		return result, true, nil
	}

	// Multiple fields expected but the root is a scalar. Best effort: the
	// first field gets the value, the rest decode to null. Lossy, but it
	// keeps a partially usable payload instead of dropping everything.
	result[fields[0].Name] = decodeField(val, fields[0].Type)
	for _, field := range fields[1:] {
		result[field.Name] = nil
	}
	return result, true, nil
}
