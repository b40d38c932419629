package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rosiehq/rosie/pkg/engine"
)

// Format is a configuration document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatOf returns the format implied by the file extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported configuration format %q", filepath.Ext(path))
}

// DocumentError reports every problem found in a configuration document.
type DocumentError struct {
	File   string
	Errors []ValidationError
}

func (e *DocumentError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.String())
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.File, strings.Join(msgs, "; "))
}

// Load reads and decodes the configuration document at path, applies the
// environment overrides and validates the result. A malformed document is a
// fatal error.
func Load(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewFatalError("failed to read configuration", err).WithCode(engine.ErrCodeValidation)
	}

	format, err := FormatOf(path)
	if err != nil {
		return nil, engine.NewFatalError("failed to load configuration", err).WithCode(engine.ErrCodeValidation)
	}

	doc, err := Parse(content, format, path)
	if err != nil {
		return nil, engine.NewFatalError("failed to load configuration", err).WithCode(engine.ErrCodeValidation)
	}

	doc.ApplyEnv()
	if errs := doc.Validate(); len(errs) > 0 {
		return nil, engine.NewFatalError("failed to load configuration", &DocumentError{File: path, Errors: errs}).
			WithCode(engine.ErrCodeValidation)
	}
	return doc, nil
}

// Parse decodes content without validating it. Filename is used in error
// positions only.
func Parse(content []byte, format Format, filename string) (*Document, error) {
	doc := &Document{}

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(doc); err != nil {
			return nil, &DocumentError{File: filename, Errors: []ValidationError{{File: filename, Message: err.Error()}}}
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		if err := dec.Decode(doc); err != nil {
			return nil, &DocumentError{File: filename, Errors: []ValidationError{{File: filename, Message: err.Error()}}}
		}
	case FormatCUE:
		if errs := parseCUE(content, filename, doc); len(errs) > 0 {
			return nil, &DocumentError{File: filename, Errors: errs}
		}
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", format)
	}

	return doc, nil
}

// Marshal encodes doc in format. CUE documents are written as JSON, which
// is valid CUE.
func Marshal(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode configuration: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode configuration: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON, FormatCUE:
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode configuration: %w", err)
		}
		return append(out, '\n'), nil
	}
	return nil, fmt.Errorf("unsupported configuration format %q", format)
}
