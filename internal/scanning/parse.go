package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/receiptocr/receipt-ocr/internal/extraction"
)

// outputSchema describes the document every scanner produces.
const outputSchema = `{
  "type": "object",
  "required": ["parsed_data"],
  "properties": {
    "message": {"type": "string"},
    "status": {"type": "string"},
    "extracted_text": {"type": ["string", "null"]},
    "parsed_data": {
      "type": "object",
      "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
    }
  }
}`

var schema = mustCompileSchema(outputSchema)

func mustCompileSchema(s string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", strings.NewReader(s)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	compiled, err := compiler.Compile("output.json")
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return compiled
}

type ocrOutput struct {
	ExtractedText *string        `json:"extracted_text"`
	ParsedData    map[string]any `json:"parsed_data"`
}

// parseOutput extracts the JSON document from a scanner's response, checks it
// against the output schema and decodes it. Numbers are kept as json.Number so
// no precision is lost before normalization.
func parseOutput(text string) (*Result, error) {
	body, err := jsonObject(text)
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("output does not match schema: %w", err)
	}

	var out ocrOutput
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding output: %w", err)
	}

	res := &Result{Fields: extraction.RawExtraction(out.ParsedData)}
	if out.ExtractedText != nil {
		res.Text = *out.ExtractedText
	}
	return res, nil
}

// jsonObject strips markdown fences and anything around the outermost object.
func jsonObject(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	return []byte(text[start : end+1]), nil
}
