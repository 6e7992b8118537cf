package extractor

// SummaryComprehensive is the summary type recorded for DefaultPrompt output
const SummaryComprehensive = "comprehensive"

// SystemPrompt frames every extraction call
const SystemPrompt = `You extract structured, factual information from scientific papers.
Answer with a single JSON object and nothing else.`

// DefaultPrompt asks for the geoscience paper schema
const DefaultPrompt = `Extract structured information from this geoscience paper. Format as JSON with this schema:

{
    "metadata": {
        "title": "string - full title",
        "authors": [{"name": "string - full name", "affiliation": "string - institution or null"}],
        "year": "string - publication year or null",
        "journal": {"name": "string or null", "volume": "string or null", "pages": "string or null"},
        "doi": "string - DOI or null",
        "keywords": ["string - key terms"]
    },
    "study": {
        "location": {
            "name": "string - study area name or null",
            "coordinates": {"lat": "number or null", "lon": "number or null"},
            "scale": "string - local/regional/global",
            "time_period": {"start": "string or null", "end": "string or null"}
        },
        "objectives": ["string - clear research goals"],
        "methods": [{
            "name": "string - method name",
            "type": "string - field/remote_sensing/model/lab",
            "description": "string - clear description",
            "tools": ["string - equipment/software used"]
        }]
    },
    "findings": [{
        "statement": "string - key finding",
        "type": "string - observation/measurement/interpretation",
        "data": {
            "parameter": "string or null",
            "value": "string or number or null",
            "units": "string or null",
            "uncertainty": "string or number or null"
        },
        "evidence": "string - supporting evidence or null",
        "confidence": "string - high/medium/low or null"
    }],
    "relationships": [{
        "type": "string - causal/correlation/spatial",
        "description": "string - clear description",
        "evidence": "string - supporting evidence or null",
        "strength": "string - strong/moderate/weak"
    }]
}

Important:
1. Ensure all JSON is properly formatted and terminated
2. Use null for missing/unknown values
3. Include only factual information from the paper
4. Be precise with measurements and units
5. Do NOT wrap the JSON in code block markers

Extract this information from the paper below:`

// Prompt pairs a prompt with the summary type its output is stored under
type Prompt struct {
	Text        string
	SummaryType string
}

// DefaultPrompts is the prompt set used when none is configured
func DefaultPrompts() []Prompt {
	return []Prompt{{Text: DefaultPrompt, SummaryType: SummaryComprehensive}}
}
