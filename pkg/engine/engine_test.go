package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type pagedCollector struct {
	pages map[string]Page
	calls int
}

func (p *pagedCollector) Kind() Kind { return KindGlueJob }

func (p *pagedCollector) ListPage(_ context.Context, token string) (Page, error) {
	p.calls++
	page, ok := p.pages[token]
	if !ok {
		return Page{}, fmt.Errorf("bad token %q", token)
	}
	return page, nil
}

func (p *pagedCollector) Describe(context.Context, string) (*Description, error) {
	return nil, ErrNotFound
}

func (p *pagedCollector) Delete(context.Context, string) error { return nil }

func TestListAllDrainsPagination(t *testing.T) {
	c := &pagedCollector{pages: map[string]Page{
		"":   {Facts: []Facts{{Name: "a"}, {Name: "b"}}, NextToken: "t1"},
		"t1": {Facts: []Facts{{Name: "c"}}, NextToken: "t2"},
		"t2": {Facts: []Facts{{Name: "d"}}},
	}}

	facts, err := ListAll(context.Background(), c)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(facts) != 4 {
		t.Errorf("len(facts) = %d, want 4", len(facts))
	}
	if c.calls != 3 {
		t.Errorf("calls = %d, want 3", c.calls)
	}
}

func TestListAllRejectsRepeatedToken(t *testing.T) {
	c := &pagedCollector{pages: map[string]Page{
		"":   {Facts: []Facts{{Name: "a"}}, NextToken: "t1"},
		"t1": {Facts: []Facts{{Name: "b"}}, NextToken: "t1"},
	}}

	if _, err := ListAll(context.Background(), c); err == nil {
		t.Fatal("expected error for repeated pagination token")
	}
}

func TestDaysBetween(t *testing.T) {
	now := time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)
	tests := []struct {
		name string
		then time.Time
		want int
	}{
		{"same day", time.Date(2024, 3, 31, 0, 0, 1, 0, time.UTC), 0},
		{"one day late evening", time.Date(2024, 3, 30, 23, 59, 0, 0, time.UTC), 1},
		{"leap february", time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC), 32},
		{"future", time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysBetween(now, tt.then); got != tt.want {
				t.Errorf("DaysBetween() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReservedSet(t *testing.T) {
	s := NewReservedSet("Team-Owned-Job")

	tests := []struct {
		name string
		want bool
	}{
		{"rosie-glue-monitoring", true},
		{"ROSIE-GLUE-MONITORING", true},
		{" team-owned-job ", true},
		{"prod-etl-job", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := s.Contains(tt.name); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	var zero ReservedSet
	if zero.Contains("rosie-glue-monitoring") {
		t.Error("zero ReservedSet should be empty")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"glue_job", KindGlueJob, false},
		{"GLUE", KindGlueJob, false},
		{"STEP FUNCTIONS", KindStepFunction, false},
		{"S3_MONITORING", KindS3Path, false},
		{"DATA CATALOG", KindCatalogTable, false},
		{"lambda", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	nf := NewNotFoundError(KindGlueJob, "etl")
	if !IsNotFound(nf) || !IsIsolated(nf) || IsFatal(nf) {
		t.Errorf("not found classification wrong: %v", nf)
	}
	if !errors.Is(nf, ErrNotFound) {
		t.Error("not found error should wrap ErrNotFound")
	}

	wrapped := fmt.Errorf("failed to append: %w", NewFatalError("table missing", ErrSinkUnavailable))
	if !IsFatal(wrapped) {
		t.Error("wrapped fatal error should be fatal")
	}
	if !IsFatal(fmt.Errorf("ping: %w", ErrSinkUnavailable)) {
		t.Error("ErrSinkUnavailable should be fatal")
	}

	iso := NewIsolatedError("backup failed", errors.New("disk full")).WithResource(KindS3Path, "raw/x").WithCode(ErrCodeBackupFailed)
	if !IsIsolated(iso) || IsNotFound(iso) {
		t.Errorf("isolated classification wrong: %v", iso)
	}
	want := "[isolated] backup failed: disk full (kind=s3_path, resource=raw/x)"
	if iso.Error() != want {
		t.Errorf("Error() = %q, want %q", iso.Error(), want)
	}
}

func TestRunSummary(t *testing.T) {
	var s RunSummary
	s.Add(DecisionRecord{Kind: KindS3Path, Status: StatusKeep})
	s.Add(DecisionRecord{Kind: KindGlueJob, Status: StatusDelete})
	s.Add(DecisionRecord{Kind: KindGlueJob, Status: StatusError})
	s.Fail(KindCatalogTable, errors.New("throttled"))

	if len(s.Kinds) != 3 {
		t.Fatalf("len(Kinds) = %d, want 3", len(s.Kinds))
	}
	if s.Kinds[0].Kind != KindCatalogTable {
		t.Errorf("kinds not sorted: %v", s.Kinds)
	}
	if s.Errors() != 2 {
		t.Errorf("Errors() = %d, want 2", s.Errors())
	}
	if !s.Failed() {
		t.Error("Failed() = false, want true")
	}
	if s.Count(StatusDelete) != 1 {
		t.Errorf("Count(delete) = %d, want 1", s.Count(StatusDelete))
	}
}

func TestQueryMatch(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := DecisionRecord{Kind: KindGlueJob, Status: StatusDelete, StatusDate: day.Add(3 * time.Hour), Phase: PhaseEvaluation}

	if !(Query{Date: day, Kinds: []Kind{KindS3Path, KindGlueJob}, Status: StatusDelete}).Match(rec) {
		t.Error("expected match")
	}
	if (Query{Kinds: []Kind{KindS3Path}}).Match(rec) {
		t.Error("kind filter should exclude record")
	}
	if (Query{Date: day.AddDate(0, 0, 1)}).Match(rec) {
		t.Error("date filter should exclude record")
	}
	if (Query{Phase: PhaseCleanup}).Match(rec) {
		t.Error("phase filter should exclude record")
	}
}
