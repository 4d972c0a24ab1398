package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/streamexec/errors"
)

// configSchema constrains the shape of a topology config document before it
// is decoded. Unknown keys are rejected so typos fail loudly instead of
// silently falling back to defaults.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "topology.max.spout.pending": {
      "type": "integer",
      "minimum": 0
    },
    "topology.producer.batch.size": {
      "type": "integer",
      "minimum": 1
    },
    "topology.spout.wait.strategy": {
      "type": "string",
      "enum": ["progressive", "sleep", "noop"]
    },
    "topology.backpressure.wait.strategy": {
      "type": "string",
      "enum": ["progressive", "sleep", "noop"]
    },
    "topology.debug": {
      "type": "boolean"
    },
    "topology.message.timeout.secs": {
      "type": "integer",
      "minimum": 1
    },
    "topology.executor.receive.buffer.size": {
      "type": "integer",
      "minimum": 1
    }
  }
}`

// validateSchema checks a raw JSON document against the config schema.
func validateSchema(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.WrapInvalid(err, "config", "validateSchema", "running schema validation")
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return errors.WrapInvalid(
			fmt.Errorf("config schema violations: %s", strings.Join(problems, "; ")),
			"config", "validateSchema", "checking config document")
	}

	return nil
}
