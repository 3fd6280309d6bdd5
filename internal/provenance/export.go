// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provenance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"
)

// ExportYAML writes the runs selected by opts to w as a YAML list.
func (l *Ledger) ExportYAML(ctx context.Context, w io.Writer, opts ListOptions) error {
	runs, err := l.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("querying for export: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(nonNil(runs)); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

// ExportJSON writes the runs selected by opts to w as an indented JSON array.
func (l *Ledger) ExportJSON(ctx context.Context, w io.Writer, opts ListOptions) error {
	runs, err := l.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("querying for export: %w", err)
	}
	data, err := json.MarshalIndent(nonNil(runs), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func nonNil(runs []Run) []Run {
	if runs == nil {
		return []Run{}
	}
	return runs
}
