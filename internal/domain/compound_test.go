package domain

import "testing"

func strPtr(v string) *string { return &v }

func TestCompoundPatchApplyOnlyOwnedFields(t *testing.T) {
	record := &CompoundRecord{Identifier: 2244, Formula: "C9H8O4"}
	CompoundPatch{DisplayName: strPtr("Aspirin")}.Apply(record)

	if record.DisplayName != "Aspirin" {
		t.Fatalf("expected display name to be set, got %q", record.DisplayName)
	}
	if record.Formula != "C9H8O4" {
		t.Fatalf("description patch clobbered formula: %q", record.Formula)
	}
	if record.Identifier != 2244 {
		t.Fatalf("identifier changed: %d", record.Identifier)
	}
}

func TestCompoundPatchPropertiesSetTogether(t *testing.T) {
	record := &CompoundRecord{Identifier: 1}
	CompoundPatch{Properties: &Properties{Formula: "H2O", MolecularWeight: 18.015}}.Apply(record)

	if record.Formula != "H2O" || record.MolecularWeight == nil || *record.MolecularWeight != 18.015 {
		t.Fatalf("unexpected properties: %+v", record)
	}
}

func TestCompoundPatchApplyNilRecord(t *testing.T) {
	CompoundPatch{DisplayName: strPtr("x")}.Apply(nil)
}

func TestCloneCompoundIsDeep(t *testing.T) {
	weight := 180.16
	original := &CompoundRecord{
		Identifier:      2244,
		MolecularWeight: &weight,
		Geometry: &Geometry{
			Coords:     Coordinates{X: []float64{1}, Y: []float64{2}, Z: []float64{3}},
			Elements:   []int{6},
			Has3DModel: true,
		},
	}
	cloned := CloneCompound(original)
	*cloned.MolecularWeight = 1
	cloned.Geometry.Coords.X[0] = 99
	cloned.Geometry.Elements[0] = 8

	if *original.MolecularWeight != 180.16 {
		t.Fatalf("weight shared between clones")
	}
	if original.Geometry.Coords.X[0] != 1 || original.Geometry.Elements[0] != 6 {
		t.Fatalf("geometry shared between clones: %+v", original.Geometry)
	}
	if CloneCompound(nil) != nil {
		t.Fatal("expected nil clone of nil record")
	}
}

func TestCloneSessionStateNeverReturnsNilSuggestions(t *testing.T) {
	cloned := CloneSessionState(SessionState{})
	if cloned.Suggestions == nil {
		t.Fatal("expected empty, non-nil suggestions")
	}
}
