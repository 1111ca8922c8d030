package datafile

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// datafileSchema checks the structural shape shared by all supported
// datafile versions; entity internals are validated during index
// construction instead, where unknown fields must stay tolerated.
const datafileSchema = `{
  "type": "object",
  "required": ["version", "accountId", "projectId", "revision"],
  "properties": {
    "version": {"type": "string"},
    "accountId": {"type": "string"},
    "projectId": {"type": "string"},
    "revision": {"type": "string"},
    "anonymizeIP": {"type": "boolean"},
    "botFiltering": {"type": "boolean"},
    "sendFlagDecisions": {"type": "boolean"},
    "experiments": {"type": "array", "items": {"type": "object", "required": ["id", "key"]}},
    "groups": {"type": "array", "items": {"type": "object", "required": ["id", "policy"]}},
    "events": {"type": "array", "items": {"type": "object", "required": ["id", "key"]}},
    "audiences": {"type": "array", "items": {"type": "object", "required": ["id", "conditions"]}},
    "typedAudiences": {"type": "array", "items": {"type": "object", "required": ["id", "conditions"]}},
    "attributes": {"type": "array", "items": {"type": "object", "required": ["id", "key"]}},
    "featureFlags": {"type": "array", "items": {"type": "object", "required": ["id", "key"]}},
    "rollouts": {"type": "array", "items": {"type": "object", "required": ["id"]}},
    "holdouts": {"type": "array", "items": {"type": "object", "required": ["id", "key"]}}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(datafileSchema)

func validateSchema(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDatafile, err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDatafile, errs[0].String())
		}
		return ErrInvalidDatafile
	}
	return nil
}
