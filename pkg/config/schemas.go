package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// documentSchema constrains CUE configuration documents. YAML and JSON
// documents are checked by struct validation only.
const documentSchema = `
#Window: {
	enabled:          bool | *false
	days?:            int & >=0
	alert_lead_days?: int & >=0
}

#Idle: {
	enabled:          bool | *false
	idle_days?:       int & >=0
	alert_lead_days?: int & >=0
}

#Class: {
	label:        string & !=""
	retention?:   #Window
	idle?:        #Idle
	backup_days?: int & >=0
}

#Lifecycle: {
	strategy:         string & !=""
	retention_days?:  int & >=0
	alert_lead_days?: int & >=0
	separator?:       string
	affix?:           "PREFIX" | "SUFFIX" | "INFIX" | "prefix" | "suffix" | "infix"
	tag_key?:         string
	classes?: [...#Class]
	irregular_format?: {
		quarantine:       bool | *false
		quarantine_days?: int & >=0
	}
}

#Document: {
	account?: {
		id?:     string
		region?: string
	}
	legacy?: {
		enabled:               bool | *false
		adequacy_term_days?:   int & >=0
		reference_start_date?: =~"^[0-9]{4}-[0-9]{2}-[0-9]{2}$"
	}
	monitoring: [string]: {
		enabled:   bool | *true
		lifecycle: #Lifecycle
	}
	runtime?: {
		database_path?: string
		schedule?:      string
		reserved_names?: [...string]
	}
	backup?: {
		type?:           "filesystem" | "sftp" | ""
		path?:           string
		retention_days?: int & >=0
		sftp?: {...}
	}
	inventory?: {
		path?:      string
		page_size?: int & >=1
	}
	telemetry?: {...}
}
`

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaVal  cue.Value
	schemaErr  error
)

// documentDefinition returns the compiled #Document definition and the
// context it was compiled in. Values unified with it must share that context.
func documentDefinition() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		val := schemaCtx.CompileString(documentSchema, cue.Filename("rosie-schema.cue"))
		if err := val.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to compile document schema: %w", err)
			return
		}
		schemaVal = val.LookupPath(cue.ParsePath("#Document"))
		if !schemaVal.Exists() {
			schemaErr = fmt.Errorf("document schema has no #Document definition")
		}
	})
	return schemaCtx, schemaVal, schemaErr
}
