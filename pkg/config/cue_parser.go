package config

import (
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
)

// cueMu serializes use of the shared CUE context, which is not safe for
// concurrent use.
var cueMu sync.Mutex

// parseCUE compiles content, unifies it with the document schema and
// decodes the concrete result into doc.
func parseCUE(content []byte, filename string, doc *Document) []ValidationError {
	cueMu.Lock()
	defer cueMu.Unlock()

	ctx, schema, err := documentDefinition()
	if err != nil {
		return []ValidationError{{File: filename, Message: err.Error()}}
	}

	val := ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	if err := unified.Decode(doc); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		validationErrors = append(validationErrors, ve)
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
	}
	return validationErrors
}
