// Package jsonrepair turns near-JSON model output into parseable JSON and
// decodes it into a classification.
//
// Repair looks for an object inside the reply, so prose and code fences
// around it are ignored, and hands each candidate to
// github.com/kaptinlin/jsonrepair, which quotes keys and bare words,
// normalises quotes, inserts missing commas, drops trailing commas and
// comments, maps Python literals and closes truncated input.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"strings"

	repairlib "github.com/kaptinlin/jsonrepair"
)

// ErrNoJSONObject is returned when the input holds nothing that could be
// repaired into a JSON object.
var ErrNoJSONObject = errors.New("no json object found")

const maxCandidates = 8

// Repair returns a best-effort JSON object extracted from raw.
func Repair(raw string) (string, error) {
	lastClose := strings.LastIndexByte(raw, '}')
	tried := 0
	for start := 0; start < len(raw) && tried < maxCandidates; start++ {
		if raw[start] != '{' {
			continue
		}
		tried++
		for _, candidate := range candidates(raw, start, lastClose) {
			if out, ok := repairObject(candidate); ok {
				return out, nil
			}
		}
	}
	return "", ErrNoJSONObject
}

// candidates yields the object up to the last closing brace, then the whole
// tail for replies cut off before the object was closed.
func candidates(raw string, start, lastClose int) []string {
	if lastClose > start {
		return []string{raw[start : lastClose+1], raw[start:]}
	}
	return []string{raw[start:]}
}

func repairObject(candidate string) (string, bool) {
	out, err := repairlib.JSONRepair(candidate)
	if err != nil {
		return "", false
	}
	out = strings.TrimSpace(out)
	if !strings.HasPrefix(out, "{") || !json.Valid([]byte(out)) {
		return "", false
	}
	return out, true
}
