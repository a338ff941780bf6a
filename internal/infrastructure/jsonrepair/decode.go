package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

// ClassificationDecoder repairs a raw classification reply and decodes it.
type ClassificationDecoder struct{}

func NewClassificationDecoder() ClassificationDecoder {
	return ClassificationDecoder{}
}

func (ClassificationDecoder) Decode(raw string) (domain.Classification, error) {
	return DecodeClassification(raw)
}

type classificationPayload struct {
	Tags        any `json:"tags"`
	Desc        any `json:"desc"`
	Description any `json:"description"`
}

// DecodeClassification accepts "desc" or "description" and tags given either
// as an array or as a comma separated string.
func DecodeClassification(raw string) (domain.Classification, error) {
	repaired, err := Repair(raw)
	if err != nil {
		return domain.Classification{}, &domain.ClassificationDecodeError{Raw: raw, Err: err}
	}

	var payload classificationPayload
	if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
		return domain.Classification{}, &domain.ClassificationDecodeError{Raw: raw, Err: fmt.Errorf("unmarshal repaired json: %w", err)}
	}
	if payload.Tags == nil && payload.Desc == nil && payload.Description == nil {
		return domain.Classification{}, &domain.ClassificationDecodeError{Raw: raw, Err: errors.New("no tags or desc field")}
	}

	desc := scalarText(payload.Desc)
	if desc == "" {
		desc = scalarText(payload.Description)
	}
	return domain.Classification{
		Tags: tagList(payload.Tags),
		Desc: desc,
	}, nil
}

func tagList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if tag := scalarText(item); tag != "" {
				out = append(out, tag)
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if tag := strings.TrimSpace(part); tag != "" {
				out = append(out, tag)
			}
		}
	}
	return out
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}
