package intent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage names where a classification attempt failed.
const (
	StageService  = "service"
	StageExtract  = "extract"
	StageDecode   = "decode"
	StageValidate = "validate"
)

// ClassificationParseError reports why a model response could not be trusted.
// It is logged, never shown to the user.
type ClassificationParseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ClassificationParseError) Error() string {
	return fmt.Sprintf("classification %s: %v", e.Stage, e.Err)
}

func (e *ClassificationParseError) Unwrap() error { return e.Err }

// ExtractObject returns the text between the first '{' and the last '}' inclusive.
func ExtractObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return "", ErrNoObject
	}
	return raw[start : end+1], nil
}

// Decode parses a model response into an Analysis and the reply for the user.
// The whole response is decoded first; only if that fails is the brace span
// extracted and decoded. Either way the result is validated before return.
func Decode(raw string) (Analysis, string, error) {
	var p payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		obj, xerr := ExtractObject(raw)
		if xerr != nil {
			return Analysis{}, "", &ClassificationParseError{Stage: StageExtract, Raw: raw, Err: xerr}
		}
		p = payload{}
		if err := json.Unmarshal([]byte(obj), &p); err != nil {
			return Analysis{}, "", &ClassificationParseError{Stage: StageDecode, Raw: raw, Err: err}
		}
	}

	a, reply, err := p.validate()
	if err != nil {
		return Analysis{}, "", &ClassificationParseError{Stage: StageValidate, Raw: raw, Err: err}
	}
	return a, reply, nil
}
