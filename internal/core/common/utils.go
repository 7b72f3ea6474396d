package common

import (
	"encoding/json"
	"fmt"
)

// ParseJSON cleans and unmarshals a JSON object from an LLM reply into T.
// It handles common quirks like surrounding markdown fences or extra prose.
func ParseJSON[T any](response string) (T, error) {
	var zero T
	jsonStr, ok := clip(response, '{', '}')
	if !ok {
		return zero, fmt.Errorf("no JSON object found in response")
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, jsonStr)
	}
	return result, nil
}

// ParseJSONList is ParseJSON for replies whose top-level value is an array.
// An empty array is a valid result, not an error.
func ParseJSONList[T any](response string) ([]T, error) {
	jsonStr, ok := clip(response, '[', ']')
	if !ok {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var result []T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON array: %w\nData: %s", err, jsonStr)
	}
	return result, nil
}

// clip returns the substring from the first open delimiter to the last
// matching close delimiter, inclusive.
func clip(s string, open, closing byte) (string, bool) {
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == open {
			start = i
			break
		}
	}
	end := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == closing {
			end = i + 1
			break
		}
	}
	if start == -1 || end == -1 || start >= end {
		return "", false
	}
	return s[start:end], true
}
