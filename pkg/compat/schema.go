package compat

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

const coordinateSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["resource", "version"],
	"properties": {
		"kind": {"type": "string"},
		"resource": {"type": "string", "minLength": 1},
		"group": {"type": "string"},
		"version": {"type": "string", "minLength": 1}
	}
}`

// overridesSchema describes the overrides file after conversion to JSON.
const overridesSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"definitions": {
		"coordinate": ` + coordinateSchema + `
	},
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"rules": {
			"type": "array",
			"items": {
				"type": "object",
				"additionalProperties": false,
				"required": ["status", "from", "to"],
				"properties": {
					"status": {"type": "integer", "minimum": 400, "maximum": 599},
					"from": {"$ref": "#/definitions/coordinate"},
					"to": {"$ref": "#/definitions/coordinate"}
				}
			}
		},
		"legacy": {
			"type": "array",
			"items": {
				"type": "object",
				"additionalProperties": false,
				"required": ["resource", "to"],
				"properties": {
					"resource": {"type": "string", "minLength": 1},
					"to": {"$ref": "#/definitions/coordinate"}
				}
			}
		}
	}
}`

var overridesSchemaLoader = gojsonschema.NewStringLoader(overridesSchema)

type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("%s (and %d more)", e.Errors[0], len(e.Errors)-1)
}

// validateOverrides checks JSON encoded overrides against overridesSchema.
func validateOverrides(data []byte) error {
	result, err := gojsonschema.Validate(overridesSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.Wrap(err, "error validating compatibility overrides")
	}
	if result.Valid() {
		return nil
	}
	validationErrors := result.Errors()
	errs := make([]string, 0, len(validationErrors))
	for _, validationErr := range validationErrors {
		errs = append(errs, validationErr.String())
	}
	return &ValidationError{Errors: errs}
}
