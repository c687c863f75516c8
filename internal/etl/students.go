package etl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/classify"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/dedup"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/docstore"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/sheets"
)

// StudentSync merges observed practice events and check-ins into per-student
// documents and pushes new practice rows to the sheet's practice log.
type StudentSync struct {
	sheets  sheets.Client
	docs    *docstore.Store
	dedup   *dedup.Store
	sheetID string
	logger  *zap.Logger
	now     func() time.Time
}

// NewStudentSync creates a StudentSync against the students spreadsheet.
func NewStudentSync(client sheets.Client, docs *docstore.Store, store *dedup.Store, sheetID string, logger *zap.Logger) *StudentSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentSync{
		sheets:  client,
		docs:    docs,
		dedup:   store,
		sheetID: sheetID,
		logger:  logger,
		now:     time.Now,
	}
}

// Sync runs the bidirectional merge:
//
//  1. pull the roster from the sheet,
//  2. merge unseen practice/check-in records into StudentRecords (students
//     missing from the roster are still tracked, flagged for review),
//  3. persist the touched documents,
//  4. push new practice rows to the practice log, batched,
//  5. stage identities as seen only after both sinks succeeded.
//
// The document merge is idempotent (practice events are unique by
// lesson+timestamp), so a partial failure leaves records retryable without
// duplicating the document side.
func (s *StudentSync) Sync(ctx context.Context, records []classify.Record) (Summary, error) {
	var summary Summary

	fresh := unseen(s.dedup, records)
	if len(fresh) == 0 {
		return summary, nil
	}

	roster, err := LoadRoster(ctx, s.sheets, s.sheetID)
	if err != nil {
		return summary, err
	}

	touched := make(map[string]*StudentRecord)
	created := make(map[string]bool)
	// Events already claimed by an earlier record in this batch, keyed by
	// (student, lesson, timestamp). A duplicate report within the batch gets
	// one practice row, not two.
	claimed := make(map[string]bool)
	var (
		practiceRows [][]string
		history      []historyWrite
	)

	for _, rec := range fresh {
		entry, known := roster.Resolve(rec.Msg.Sender)

		student, err := s.loadOrCreate(ctx, touched, created, entry, known)
		if err != nil {
			return summary, err
		}

		switch rec.Kind {
		case classify.KindPractice:
			lesson := rec.Practice.Lesson
			if lesson == "" {
				lesson = entry.CurrentLesson
			}
			student.AddPractice(lesson, rec.Practice.Timestamp)
			// The row is pushed even when the document merge was a no-op:
			// an unseen identity means the sheet never confirmed this event
			// (e.g. a push failure last cycle after the document write).
			key := student.Phone + "\x00" + lesson + "\x00" + rec.Practice.Timestamp.UTC().Format(time.RFC3339)
			if !claimed[key] {
				claimed[key] = true
				practiceRows = append(practiceRows, practiceRow(student, lesson, rec))
			}
		case classify.KindCheckIn:
			student.TotalMessages++
			if rec.Msg.Timestamp.After(student.LastMessageAt) {
				student.LastMessageAt = rec.Msg.Timestamp
			}
		default:
			continue
		}

		student.UpdatedAt = s.now()
		history = append(history, historyWrite{
			id: rec.Msg.ID,
			entry: HistoryEntry{
				Phone:     student.Phone,
				Name:      student.Name,
				Teacher:   student.Teacher,
				Lesson:    student.CurrentLesson,
				Category:  string(rec.Kind),
				Content:   rec.Msg.Text,
				Timestamp: rec.Msg.Timestamp,
			},
		})
	}

	// Document store first: its merge is idempotent, so a sheet failure after
	// this point re-applies cleanly next cycle.
	for phone, student := range touched {
		if err := s.docs.Upsert(ctx, CollectionStudents, phone, student); err != nil {
			return summary, fmt.Errorf("persist student %s: %w", phone, err)
		}
		if created[phone] {
			summary.Created++
		} else {
			summary.Updated++
		}
	}
	for _, h := range history {
		if err := s.docs.Upsert(ctx, CollectionHistory, h.id, h.entry); err != nil {
			return summary, fmt.Errorf("persist history: %w", err)
		}
	}

	// New practice data shifts the cohort averages, so the derived
	// classifications are recomputed over the whole cohort. Idempotent like
	// the merge above; a retry recomputes to the same values.
	if err := s.recalculatePerformance(ctx); err != nil {
		return summary, err
	}

	if len(practiceRows) > 0 {
		if err := s.sheets.AppendRows(ctx, s.sheetID, PracticeLogRange, practiceRows); err != nil {
			return summary, fmt.Errorf("push practice log: %w", err)
		}
	}

	for _, rec := range fresh {
		s.dedup.MarkSeen(rec.Msg.Group, rec.Msg.ID)
	}

	s.logger.Info("student records merged",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("practice_rows", len(practiceRows)),
		zap.Int("roster_size", roster.Len()))
	return summary, nil
}

type historyWrite struct {
	id    string
	entry HistoryEntry
}

// recalculatePerformance loads the whole cohort, reclassifies every student
// and persists the records whose class changed.
func (s *StudentSync) recalculatePerformance(ctx context.Context) error {
	keys, err := s.docs.Keys(ctx, CollectionStudents)
	if err != nil {
		return fmt.Errorf("list students: %w", err)
	}

	byKey := make(map[string]*StudentRecord, len(keys))
	cohort := make([]*StudentRecord, 0, len(keys))
	for _, key := range keys {
		student := &StudentRecord{}
		found, err := s.docs.Find(ctx, CollectionStudents, key, student)
		if err != nil {
			return fmt.Errorf("load student %s: %w", key, err)
		}
		if !found {
			continue
		}
		byKey[key] = student
		cohort = append(cohort, student)
	}

	classes := ClassifyCohort(cohort)
	for key, student := range byKey {
		class := classes[student.Phone]
		if student.Performance == class {
			continue
		}
		student.Performance = class
		if err := s.docs.Upsert(ctx, CollectionStudents, key, student); err != nil {
			return fmt.Errorf("persist classification %s: %w", key, err)
		}
	}
	return nil
}

// unseen keeps the practice and check-in records whose identities are not in
// the dedup store. Unrecognized and sale records never reach the student
// sinks, so their identities stay unmarked here.
func unseen(store *dedup.Store, records []classify.Record) []classify.Record {
	var out []classify.Record
	for _, rec := range records {
		if rec.Kind != classify.KindPractice && rec.Kind != classify.KindCheckIn {
			continue
		}
		if store.Seen(rec.Msg.Group, rec.Msg.ID) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *StudentSync) loadOrCreate(ctx context.Context, touched map[string]*StudentRecord, created map[string]bool, entry RosterEntry, known bool) (*StudentRecord, error) {
	key := entry.Phone
	if student, ok := touched[key]; ok {
		return student, nil
	}

	student := &StudentRecord{}
	found, err := s.docs.Find(ctx, CollectionStudents, key, student)
	if err != nil {
		return nil, fmt.Errorf("find student %s: %w", key, err)
	}
	if !found {
		student = &StudentRecord{
			Phone:     entry.Phone,
			Name:      entry.Name,
			Flagged:   !known,
			CreatedAt: s.now(),
		}
		created[key] = true
	}

	// Roster metadata wins over whatever the document had: the sheet is the
	// source of truth for name, teacher and current lesson.
	if known {
		student.Name = entry.Name
		student.Teacher = entry.Teacher
		student.CurrentLesson = entry.CurrentLesson
		student.Flagged = false
	}

	touched[key] = student
	return student, nil
}

// practiceRow formats a practice event for the practice log:
// A=timestamp, B=phone, C=name, D=lesson, E=message text.
func practiceRow(student *StudentRecord, lesson string, rec classify.Record) []string {
	return []string{
		rec.Practice.Timestamp.Format(time.RFC3339),
		student.Phone,
		student.Name,
		lesson,
		rec.Msg.Text,
	}
}
