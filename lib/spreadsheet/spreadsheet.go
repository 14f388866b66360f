// Package spreadsheet mirrors tables into the tabs of a remote spreadsheet.
package spreadsheet

import (
	"context"
	"fmt"

	"nsemirror/lib/table"
	"nsemirror/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("nsemirror.lib.spreadsheet")

// size of a newly created tab, the remote grows it as needed
const (
	DefaultRows = 100
	DefaultCols = 20
)

type Sheet interface {
	// GetOrCreateTab returns the tab titled `name`, creating it with
	// DefaultRows x DefaultCols cells when it does not exist.
	GetOrCreateTab(ctx context.Context, name string) (Tab, error)
}

type Tab interface {
	Name() string
	// Clear removes every value in the tab.
	Clear(ctx context.Context) error
	// WriteRows writes the header followed by the rows starting at the
	// top left cell, in one request.
	WriteRows(ctx context.Context, header []string, rows [][]any) error
}

// Sync replaces the entire contents of the tab `name` with `t`.
func Sync(ctx context.Context, sheet Sheet, name string, t table.Table) error {
	ctx, span := tracer.Start(ctx, "Sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("tab", name),
		attribute.Int("rows", t.Len()),
	)

	rows := t.Sanitized()

	tab, err := sheet.GetOrCreateTab(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve tab")
		return fmt.Errorf("resolve tab %q: %w", name, err)
	}
	err = tab.Clear(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to clear tab")
		return fmt.Errorf("clear tab %q: %w", name, err)
	}
	err = tab.WriteRows(ctx, t.Columns, rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write rows")
		return fmt.Errorf("write tab %q: %w", name, err)
	}
	return nil
}
