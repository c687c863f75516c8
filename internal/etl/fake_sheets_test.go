package etl

import (
	"context"
	"sync"
)

type appendCall struct {
	SheetID string
	Range   string
	Rows    [][]string
}

// fakeSheets is an in-memory sheets.Client for tests: scripted reads,
// recorded appends, optional injected failures.
type fakeSheets struct {
	mu        sync.Mutex
	readRows  [][]string
	readErr   error
	appendErr error
	appends   []appendCall
}

func (f *fakeSheets) ReadRange(ctx context.Context, sheetID, readRange string) ([][]string, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.readRows, nil
}

func (f *fakeSheets) AppendRows(ctx context.Context, sheetID, writeRange string, rows [][]string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends = append(f.appends, appendCall{SheetID: sheetID, Range: writeRange, Rows: rows})
	return nil
}

func (f *fakeSheets) appendedRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.appends {
		n += len(c.Rows)
	}
	return n
}
