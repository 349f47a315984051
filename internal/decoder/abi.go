package decoder

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/pkg/utils"
)

// abiMetaSchema validates the structure of an uploaded ABI document: a JSON
// array of event definitions with named, typed fields drawn from the closed
// primitive kind set.
const abiMetaSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name", "fields"],
    "additionalProperties": false,
    "properties": {
      "name": {"type": "string", "minLength": 1},
      "fields": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["name", "type"],
          "additionalProperties": false,
          "properties": {
            "name": {"type": "string", "minLength": 1},
            "type": {
              "type": "string",
              "enum": [
                "Address", "I128", "U128", "I64", "U64", "I32", "U32",
                "String", "Bool", "Bytes", "Symbol", "Map", "Vec"
              ]
            }
          }
        }
      }
    }
  }
}`

var compiledMetaSchema = jsonschema.MustCompileString("abi-meta.json", abiMetaSchema)

// ValidateABI checks abiJSON against the ABI meta-schema
func ValidateABI(abiJSON []byte) error {
	var doc interface{}
	if err := json.Unmarshal(abiJSON, &doc); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "ABI is not valid JSON", err.Error())
	}
	if err := compiledMetaSchema.Validate(doc); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "ABI does not match the expected structure", err.Error())
	}
	return nil
}

// ParseABI validates and unmarshals an ABI document into event definitions
func ParseABI(abiJSON []byte) ([]models.EventDef, error) {
	if err := ValidateABI(abiJSON); err != nil {
		return nil, err
	}
	var defs []models.EventDef
	if err := json.Unmarshal(abiJSON, &defs); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Failed to unmarshal ABI", err.Error())
	}
	return defs, nil
}
