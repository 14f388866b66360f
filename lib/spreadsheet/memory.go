package spreadsheet

import (
	"context"
)

// Memory is an in-process Sheet, used where the remote is not reachable
// or not wanted (tests).
type Memory struct {
	Tabs map[string]*MemoryTab
	// Created lists tab names in creation order.
	Created []string
	// Fail makes every operation on the named tab return the error.
	Fail map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		Tabs: map[string]*MemoryTab{},
		Fail: map[string]error{},
	}
}

type MemoryTab struct {
	name   string
	Rows   int
	Cols   int
	Values [][]any
	Clears int
	Writes int
}

func (m *Memory) GetOrCreateTab(ctx context.Context, name string) (Tab, error) {
	if err := m.Fail[name]; err != nil {
		return nil, err
	}
	tab, ok := m.Tabs[name]
	if !ok {
		tab = &MemoryTab{name: name, Rows: DefaultRows, Cols: DefaultCols}
		m.Tabs[name] = tab
		m.Created = append(m.Created, name)
	}
	return tab, nil
}

func (t *MemoryTab) Name() string {
	return t.name
}

func (t *MemoryTab) Clear(ctx context.Context) error {
	t.Clears++
	t.Values = nil
	return nil
}

func (t *MemoryTab) WriteRows(ctx context.Context, header []string, rows [][]any) error {
	t.Writes++
	values := make([][]any, 0, len(rows)+1)
	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	values = append(values, headerRow)
	for _, row := range rows {
		values = append(values, append([]any(nil), row...))
	}
	t.Values = values

	// the remote grows the grid to fit
	if len(values) > t.Rows {
		t.Rows = len(values)
	}
	if len(header) > t.Cols {
		t.Cols = len(header)
	}
	return nil
}
