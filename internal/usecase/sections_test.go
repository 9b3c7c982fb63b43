package usecase

import (
	"context"
	"testing"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/logging"
)

func TestSectionSync(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.sections["world"] = domain.Section{SectionID: "world", WebTitle: "World"}
	provider := &fakeProvider{sections: []domain.Section{
		{SectionID: "world", WebTitle: "World news"},
		{SectionID: "sport", WebTitle: "Sport"},
		{SectionID: "old", WebTitle: "Old section - do not use"},
		{SectionID: "", WebTitle: "Nameless"},
	}}

	report, err := NewSectionSync(provider, store, 0, logging.Discard()).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Fetched != 2 || report.Created != 1 || report.Updated != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if store.sections["world"].WebTitle != "World news" {
		t.Fatalf("existing section not updated: %+v", store.sections["world"])
	}
	if _, ok := store.sections["old"]; ok {
		t.Fatalf("retired section stored")
	}
}
