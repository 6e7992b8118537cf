package extractor

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// requiredSections must be present at the top level of an extraction
var requiredSections = []string{"metadata", "study", "findings"}

// CleanResponse strips code fences and surrounding whitespace from a model
// response
func CleanResponse(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		// drop the opening fence line, e.g. ```json
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// ValidateExtraction checks that content is a JSON object with the
// metadata, study and findings sections, a title and at least one finding.
// Failures match types.ErrMalformedOutput.
func ValidateExtraction(content string) error {
	obj, err := parseSections(content)
	if err != nil {
		return err
	}

	var meta struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(obj["metadata"], &meta); err != nil || strings.TrimSpace(meta.Title) == "" {
		return goerr.Wrap(types.ErrMalformedOutput, "extraction has no title")
	}

	var findings []json.RawMessage
	if err := json.Unmarshal(obj["findings"], &findings); err != nil {
		return goerr.Wrap(types.ErrMalformedOutput, "findings is not a list")
	}
	if len(findings) == 0 {
		return goerr.Wrap(types.ErrMalformedOutput, "extraction has no findings")
	}

	return nil
}

// parseSections decodes content as an object holding every required section
func parseSections(content string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, goerr.Wrap(types.ErrMalformedOutput, "extraction is not a JSON object",
			goerr.V("error", err.Error()))
	}
	for _, key := range requiredSections {
		v, ok := obj[key]
		if !ok || string(v) == "null" {
			return nil, goerr.Wrap(types.ErrMalformedOutput, "extraction is missing a section",
				goerr.V("section", key))
		}
	}
	return obj, nil
}
