package tool

import (
	"strings"

	"github.com/google/uuid"
)

// stringInput extracts a required non-empty string field from tool input.
func stringInput(input map[string]any, key string) (string, *ExecutionError) {
	v, ok := input[key]
	if !ok {
		return "", Execerr("missing_input", "required input %q is missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", Execerr("invalid_input", "input %q must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Execerr("invalid_input", "input %q must not be empty", key)
	}
	return s, nil
}

// optionalStringInput extracts an optional string field; absent or empty
// yields "".
func optionalStringInput(input map[string]any, key string) (string, *ExecutionError) {
	v, ok := input[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", Execerr("invalid_input", "input %q must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

// uuidInput extracts a required UUID field, accepting string form.
func uuidInput(input map[string]any, key string) (uuid.UUID, *ExecutionError) {
	s, execErr := stringInput(input, key)
	if execErr != nil {
		return uuid.Nil, execErr
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, Execerr("invalid_input", "input %q is not a valid UUID: %v", key, err)
	}
	return id, nil
}

// optionalUUIDInput extracts an optional UUID field; absent yields Nil.
func optionalUUIDInput(input map[string]any, key string) (uuid.UUID, *ExecutionError) {
	s, execErr := optionalStringInput(input, key)
	if execErr != nil {
		return uuid.Nil, execErr
	}
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, Execerr("invalid_input", "input %q is not a valid UUID: %v", key, err)
	}
	return id, nil
}
