package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/AutoAgent/internal/domain"
)

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type validatable interface {
	Validate() error
}

// decode parses model output into v and checks its schema. Both failures
// are oracle errors: the pipeline must never act on malformed verdicts.
func decode[T any, PT interface {
	*T
	validatable
}](text string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(stripFences(text)), &v); err != nil {
		return nil, fmt.Errorf("%w: invalid AI response format: %v", domain.ErrOracle, err)
	}
	if err := PT(&v).Validate(); err != nil {
		return nil, fmt.Errorf("%w: AI response failed validation: %v", domain.ErrOracle, err)
	}
	return &v, nil
}
