package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies a monitored resource kind.
type Kind string

const (
	// KindGlueJob is a compute job (Glue job).
	KindGlueJob Kind = "glue_job"
	// KindStepFunction is a workflow definition (Step Functions state machine).
	KindStepFunction Kind = "step_function"
	// KindS3Path is an object-storage path.
	KindS3Path Kind = "s3_path"
	// KindCatalogTable is a data catalog table.
	KindCatalogTable Kind = "catalog_table"
)

// Kinds returns every recognized kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindGlueJob, KindStepFunction, KindS3Path, KindCatalogTable}
}

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindGlueJob, KindStepFunction, KindS3Path, KindCatalogTable:
		return true
	}
	return false
}

// HasAttachment reports whether resources of this kind carry a script or
// definition body that must be backed up with their metadata.
func (k Kind) HasAttachment() bool {
	return k == KindGlueJob || k == KindStepFunction
}

// ParseKind parses a kind name. The installer's upper-case names
// (GLUE, STEP FUNCTIONS, S3, DATA CATALOG) are accepted as aliases.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.TrimSuffix(norm, "_monitoring")
	switch norm {
	case "glue_job", "glue", "glue_jobs":
		return KindGlueJob, nil
	case "step_function", "step functions", "step_functions", "sfn":
		return KindStepFunction, nil
	case "s3_path", "s3":
		return KindS3Path, nil
	case "catalog_table", "data catalog", "data_catalog", "catalog":
		return KindCatalogTable, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Status is the lifecycle status of a decision record.
type Status string

const (
	StatusKeep           Status = "keep"
	StatusDeletionComing Status = "deletion_coming"
	StatusDelete         Status = "delete"
	StatusQuarantine     Status = "quarantine"
	StatusIgnore         Status = "ignore"
	StatusUnknown        Status = "unknown"

	// StatusDeletedBackup marks a retired resource whose backup was committed.
	StatusDeletedBackup Status = "deleted-backup"
	// StatusError marks a resource whose retirement failed.
	StatusError Status = "error"
)

// Strategy names as persisted in decision records.
const (
	StrategyFixed  = "FIXED"
	StrategyByName = "BY_NAME"
	StrategyByTag  = "BY_TAG"
)

// Class labels with special meaning.
const (
	// LabelUnclassified is used when no class value could be extracted.
	LabelUnclassified = "N/A"
	// LabelReserved is used for the system's own resources.
	LabelReserved = "ROSIE"
	// LabelFixed is used by the FIXED strategy.
	LabelFixed = "FIXED"
)

// Phase distinguishes evaluation partitions from cleanup partitions.
type Phase string

const (
	PhaseEvaluation Phase = "evaluation"
	PhaseCleanup    Phase = "cleanup"
)

// DateLayout is the calendar date format used for status dates and partitions.
const DateLayout = "2006-01-02"

// Facts describes one discovered resource.
type Facts struct {
	// Name is the resource name as reported by the native API.
	Name string `json:"name" yaml:"name"`

	// Kind is the resource kind.
	Kind Kind `json:"kind" yaml:"kind"`

	// CreationDate is when the resource was created.
	CreationDate time.Time `json:"creation_date" yaml:"creation_date"`

	// LastActivityDate is the last run or access. Zero means unknown, in which
	// case idle days equal age days.
	LastActivityDate time.Time `json:"last_activity_date,omitempty" yaml:"last_activity_date,omitempty"`

	// Tags are the resource tags.
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Details are kind-specific facts (worker type, run count, location...).
	Details map[string]string `json:"details,omitempty" yaml:"details,omitempty"`
}

// TagValue returns the value of a tag, matching keys case-insensitively.
func (f Facts) TagValue(key string) (string, bool) {
	if v, ok := f.Tags[key]; ok {
		return v, v != ""
	}
	for k, v := range f.Tags {
		if strings.EqualFold(k, key) {
			return v, v != ""
		}
	}
	return "", false
}

// DecisionRecord is the outcome of evaluating one resource in one run.
type DecisionRecord struct {
	ResourceName       string            `json:"resource_name"`
	Kind               Kind              `json:"kind"`
	ManagementStrategy string            `json:"management_strategy"`
	ClassLabel         string            `json:"class_label"`
	Status             Status            `json:"status"`
	Reason             string            `json:"reason"`
	RetentionDays      *int              `json:"retention_days"`
	CreationDate       time.Time         `json:"creation_date"`
	LastActivityDate   time.Time         `json:"last_activity_date"`
	AgeDays            int               `json:"age_days"`
	IdleDays           int               `json:"idle_days"`
	Tags               map[string]string `json:"tags,omitempty"`
	Details            map[string]string `json:"details,omitempty"`
	StatusDate         time.Time         `json:"status_date"`

	// Legacy is set when the legacy grace period rewrote the decision.
	Legacy bool `json:"legacy"`

	// RunID identifies the run that produced the record.
	RunID string `json:"run_id,omitempty"`

	// Phase is the partition phase the record was written to.
	Phase Phase `json:"phase,omitempty"`

	// DeletedAt is set by the cleanup enactor on successful retirement.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// BackupLocation is the committed backup key, if any.
	BackupLocation string `json:"backup_location,omitempty"`
}

// Facts reconstructs the resource facts the record was evaluated from.
func (r DecisionRecord) Facts() Facts {
	return Facts{
		Name:             r.ResourceName,
		Kind:             r.Kind,
		CreationDate:     r.CreationDate,
		LastActivityDate: r.LastActivityDate,
		Tags:             r.Tags,
		Details:          r.Details,
	}
}

// Partition addresses one append-only slice of the result store.
type Partition struct {
	Date  time.Time `json:"date"`
	Kind  Kind      `json:"kind"`
	Phase Phase     `json:"phase"`
	RunID string    `json:"run_id"`
}

// Validate checks the partition key is complete.
func (p Partition) Validate() error {
	if p.Date.IsZero() {
		return fmt.Errorf("partition date is required")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("invalid partition kind %q", p.Kind)
	}
	if p.Phase != PhaseEvaluation && p.Phase != PhaseCleanup {
		return fmt.Errorf("invalid partition phase %q", p.Phase)
	}
	if p.RunID == "" {
		return fmt.Errorf("partition run id is required")
	}
	return nil
}

// String renders the partition as a path-like key.
func (p Partition) String() string {
	return fmt.Sprintf("status_date=%s/kind=%s/phase=%s/run=%s", p.Date.Format(DateLayout), p.Kind, p.Phase, p.RunID)
}

// Query selects persisted records. Zero fields do not filter.
type Query struct {
	Date   time.Time
	Kinds  []Kind
	Status Status
	Phase  Phase
	RunID  string
	Limit  int
}

// Match reports whether rec satisfies the query.
func (q Query) Match(rec DecisionRecord) bool {
	if !q.Date.IsZero() && !SameDay(q.Date, rec.StatusDate) {
		return false
	}
	if len(q.Kinds) > 0 {
		found := false
		for _, k := range q.Kinds {
			if k == rec.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Status != "" && q.Status != rec.Status {
		return false
	}
	if q.Phase != "" && q.Phase != rec.Phase {
		return false
	}
	if q.RunID != "" && q.RunID != rec.RunID {
		return false
	}
	return true
}

// Description is the full native description of a resource fetched before deletion.
type Description struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`

	// ClassLabel is the classification the resource was retired under.
	ClassLabel string `json:"class_label,omitempty"`

	// Metadata is the native description document.
	Metadata json.RawMessage `json:"metadata"`

	// Attachments are script or definition bodies keyed by file name.
	Attachments map[string][]byte `json:"-"`
}

// KindSummary aggregates one kind's outcome in a run.
type KindSummary struct {
	Kind       Kind           `json:"kind"`
	Discovered int            `json:"discovered"`
	Statuses   map[Status]int `json:"statuses"`
	Errors     int            `json:"errors"`
	Unmapped   int            `json:"unmapped,omitempty"`
	Failure    string         `json:"failure,omitempty"`
}

// RunSummary is the aggregate outcome of one run.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Phase      Phase         `json:"phase"`
	StatusDate time.Time     `json:"status_date"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Kinds      []KindSummary `json:"kinds"`
}

// Add counts a record into the summary of its kind.
func (s *RunSummary) Add(rec DecisionRecord) {
	ks := s.kind(rec.Kind)
	ks.Statuses[rec.Status]++
	if rec.Status == StatusError {
		ks.Errors++
	}
}

// Fail records a kind-level failure.
func (s *RunSummary) Fail(kind Kind, err error) {
	ks := s.kind(kind)
	ks.Failure = err.Error()
	ks.Errors++
}

// Kind returns the summary entry for kind, creating it if needed.
func (s *RunSummary) Kind(kind Kind) *KindSummary {
	return s.kind(kind)
}

func (s *RunSummary) kind(kind Kind) *KindSummary {
	for i := range s.Kinds {
		if s.Kinds[i].Kind == kind {
			return &s.Kinds[i]
		}
	}
	s.Kinds = append(s.Kinds, KindSummary{Kind: kind, Statuses: make(map[Status]int)})
	sort.Slice(s.Kinds, func(i, j int) bool { return s.Kinds[i].Kind < s.Kinds[j].Kind })
	return s.kind(kind)
}

// Errors returns the total error count.
func (s *RunSummary) Errors() int {
	n := 0
	for _, k := range s.Kinds {
		n += k.Errors
	}
	return n
}

// Failed reports whether any kind failed as a whole.
func (s *RunSummary) Failed() bool {
	for _, k := range s.Kinds {
		if k.Failure != "" {
			return true
		}
	}
	return false
}

// Count returns the number of records with status across kinds.
func (s *RunSummary) Count(status Status) int {
	n := 0
	for _, k := range s.Kinds {
		n += k.Statuses[status]
	}
	return n
}
