package utils

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	codeBlockRe  = regexp.MustCompile("```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")
	jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)
	jsonArrayRe  = regexp.MustCompile(`\[[\s\S]*\]`)
)

// DecodeJSONFromLLMResponse robustly decodes JSON from LLM responses into v.
// Handles various formats:
// - Raw JSON: {"tags": [...]}
// - Code blocks: ```json\n{...}\n``` or ```\n{...}\n```
// - Surrounding text: "Here is the analysis: {...}"
// - Arrays: [...]
func DecodeJSONFromLLMResponse(content string, v interface{}) error {
	content = strings.TrimSpace(content)

	// Try direct decode first
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}

	// Try to find JSON in markdown code blocks (```json or ```)
	if matches := codeBlockRe.FindStringSubmatch(content); len(matches) > 1 {
		if err := json.Unmarshal([]byte(strings.TrimSpace(matches[1])), v); err == nil {
			return nil
		}
	}

	// Try to find JSON object by looking for outermost { ... }
	if match := jsonObjectRe.FindString(content); match != "" {
		if err := json.Unmarshal([]byte(match), v); err == nil {
			return nil
		}
	}

	// Try to find JSON array by looking for outermost [ ... ]
	if match := jsonArrayRe.FindString(content); match != "" {
		if err := json.Unmarshal([]byte(match), v); err == nil {
			return nil
		}
	}

	return errors.New("unable to parse JSON from LLM response")
}
