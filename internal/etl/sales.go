package etl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/classify"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/dedup"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/sheets"
)

// SalesSync appends newly observed sales leads to the sales sheet,
// append-only and de-duplicated.
type SalesSync struct {
	sheets  sheets.Client
	dedup   *dedup.Store
	sheetID string
	logger  *zap.Logger
}

// NewSalesSync creates a SalesSync writing to the given spreadsheet.
func NewSalesSync(client sheets.Client, store *dedup.Store, sheetID string, logger *zap.Logger) *SalesSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SalesSync{sheets: client, dedup: store, sheetID: sheetID, logger: logger}
}

// Sync filters records down to unseen sale leads, appends them as sheet rows
// in one batched write, and stages their identities as seen only after the
// write is confirmed. A write failure leaves every identity unmarked, so the
// whole batch is retried next cycle. Returns the number of rows appended.
func (s *SalesSync) Sync(ctx context.Context, records []classify.Record) (int, error) {
	var (
		rows  [][]string
		leads []classify.Record
	)
	for _, rec := range records {
		if rec.Kind != classify.KindSale {
			continue
		}
		if s.dedup.Seen(rec.Msg.Group, rec.Msg.ID) {
			continue
		}
		rows = append(rows, leadRow(rec))
		leads = append(leads, rec)
	}

	if len(rows) == 0 {
		return 0, nil
	}

	if err := s.sheets.AppendRows(ctx, s.sheetID, SalesAppendRange, rows); err != nil {
		return 0, fmt.Errorf("append leads: %w", err)
	}

	for _, rec := range leads {
		s.dedup.MarkSeen(rec.Msg.Group, rec.Msg.ID)
	}

	s.logger.Info("sales leads appended",
		zap.Int("rows", len(rows)),
		zap.String("sheet_id", s.sheetID))
	return len(rows), nil
}

// leadRow formats a lead for the sales sheet columns:
// B=timestamp, C=name, D=phone, E=email, F=source.
func leadRow(rec classify.Record) []string {
	return []string{
		rec.Msg.Timestamp.Format(time.RFC3339),
		rec.Sale.Name,
		rec.Sale.Phone,
		rec.Sale.Email,
		rec.Sale.Source,
	}
}
