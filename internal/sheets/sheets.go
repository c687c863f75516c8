// Package sheets wraps the Google Sheets API behind the two operations the
// pipeline needs: range reads and batched row appends.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

// ErrRateLimited indicates the Sheets API pushed back. Transient: nothing is
// marked seen and the same batch is retried on the next cycle, never within
// the same cycle.
var ErrRateLimited = errors.New("sheets api rate limited")

// Client is the spreadsheet boundary consumed by the sync components.
type Client interface {
	ReadRange(ctx context.Context, sheetID, readRange string) ([][]string, error)
	AppendRows(ctx context.Context, sheetID, writeRange string, rows [][]string) error
}

// Service talks to the real Google Sheets API using a service-account key.
type Service struct {
	svc *sheetsv4.Service
}

// NewService builds a Service from a service-account credentials file.
func NewService(ctx context.Context, credentialsFile string) (*Service, error) {
	key, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(key, sheetsv4.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := sheetsv4.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Service{svc: svc}, nil
}

// ReadRange returns the cell values in the given A1 range as strings.
func (s *Service) ReadRange(ctx context.Context, sheetID, readRange string) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(sheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("read range", err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			row = append(row, fmt.Sprint(cell))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRows appends rows after the last data row of the range in a single
// batched call.
func (s *Service) AppendRows(ctx context.Context, sheetID, writeRange string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		cells := make([]any, 0, len(row))
		for _, c := range row {
			cells = append(cells, c)
		}
		values = append(values, cells)
	}

	_, err := s.svc.Spreadsheets.Values.
		Append(sheetID, writeRange, &sheetsv4.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return wrapAPIError("append rows", err)
	}
	return nil
}

func wrapAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
