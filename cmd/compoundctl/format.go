package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"chemsearch/searchservice/internal/domain"
)

func formatResolution(w io.Writer, resolution domain.Resolution, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resolution)
	}

	compound := resolution.Compound
	if compound == nil {
		_, err := fmt.Fprintln(w, "No compound found.")
		return err
	}

	fmt.Fprintf(w, "%-12s %d\n", "CID", compound.Identifier)
	fmt.Fprintf(w, "%-12s %s\n", "Name", valueOrDash(compound.DisplayName))
	fmt.Fprintf(w, "%-12s %s\n", "Formula", valueOrDash(compound.Formula))
	weight := "-"
	if compound.MolecularWeight != nil {
		weight = fmt.Sprintf("%.2f g/mol", *compound.MolecularWeight)
	}
	fmt.Fprintf(w, "%-12s %s\n", "Weight", weight)
	model := "unavailable"
	if compound.Geometry != nil && compound.Geometry.Has3DModel {
		model = fmt.Sprintf("%d atoms, %d bonds", len(compound.Geometry.Elements), len(compound.Geometry.Bonds.Order))
	}
	fmt.Fprintf(w, "%-12s %s\n", "3D model", model)
	fmt.Fprintf(w, "%-12s %s\n", "Preview", valueOrDash(compound.PreviewImageURL))

	var failed []string
	for _, status := range resolution.Details {
		if !status.OK {
			failed = append(failed, fmt.Sprintf("%s (%s)", status.Kind, status.Error))
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(w, "\nIncomplete: %s\n", strings.Join(failed, ", "))
	}
	_, err := fmt.Fprintf(w, "\nResolved in %dms\n", resolution.ElapsedMS)
	return err
}

func formatSuggestions(w io.Writer, items []string) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No suggestions.")
		return err
	}
	for i, item := range items {
		if _, err := fmt.Fprintf(w, "%2d. %s\n", i+1, item); err != nil {
			return err
		}
	}
	return nil
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
