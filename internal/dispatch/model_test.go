package dispatch

import "testing"

func TestFlattenReferences(t *testing.T) {
	groups := []CitationGroup{
		{References: []Reference{
			{SourceDocument: "a.pdf"},
			{SourceDocument: "b.pdf"},
		}},
		{}, // a group with no references contributes nothing
		{References: []Reference{
			{SourceDocument: "c.pdf"},
		}},
	}

	refs := FlattenReferences(groups)
	if len(refs) != 3 {
		t.Fatalf("len(refs) = %d, want 3", len(refs))
	}
	for i, want := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		if refs[i].SourceDocument != want {
			t.Errorf("refs[%d] = %q, want %q (order must be preserved)", i, refs[i].SourceDocument, want)
		}
	}
}

func TestFlattenReferencesEmpty(t *testing.T) {
	if refs := FlattenReferences(nil); len(refs) != 0 {
		t.Errorf("FlattenReferences(nil) = %v", refs)
	}
}
