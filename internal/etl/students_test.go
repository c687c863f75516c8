package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/classify"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/docstore"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/source"
)

func testDocs(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rosterRows() [][]string {
	// A=phone, B=name, C=lesson, D=last practice, E=teacher.
	return [][]string{
		{"0522991474", "Dana Levi", "4", "", "Noa"},
		{"0531112233", "Omer Katz", "2", "", "Noa"},
	}
}

func practiceMsg(sender, text string, ts time.Time) classify.Record {
	rules := classify.NewRules(classify.Options{
		PracticeWords: []string{"practiced"},
		MessageWords:  []string{"hello teacher"},
	})
	return rules.Classify(source.NewRawMessage("students", sender, ts, text))
}

func TestStudentSyncCreatesRecordWithPractice(t *testing.T) {
	fs := &fakeSheets{readRows: rosterRows()}
	docs := testDocs(t)
	ds := testDedup(t)
	s := NewStudentSync(fs, docs, ds, "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := practiceMsg("0522991474", "practiced lesson 4", ts)

	sum, err := s.Sync(context.Background(), []classify.Record{rec})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 1 || sum.Updated != 0 {
		t.Errorf("summary = %+v, want created=1", sum)
	}

	var student StudentRecord
	found, err := docs.Find(context.Background(), CollectionStudents, "972 52-299-1474", &student)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("student document not created")
	}
	if student.Name != "Dana Levi" || student.Teacher != "Noa" {
		t.Errorf("roster metadata not applied: %+v", student)
	}
	if student.Flagged {
		t.Error("roster student must not be flagged")
	}
	if len(student.Practices) != 1 || student.Practices[0].Lesson != "4" {
		t.Errorf("practices = %v, want one lesson-4 event", student.Practices)
	}
	if fs.appendedRows() != 1 {
		t.Errorf("practice log rows = %d, want 1", fs.appendedRows())
	}
	// A cohort of one is below the classification minimum, which lands on
	// normal rather than leaving the field empty.
	if student.Performance != PerfNormal {
		t.Errorf("performance = %q, want %q", student.Performance, PerfNormal)
	}
}

func TestStudentSyncUnknownStudentIsFlaggedNotDropped(t *testing.T) {
	fs := &fakeSheets{readRows: rosterRows()}
	docs := testDocs(t)
	s := NewStudentSync(fs, docs, testDedup(t), "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := practiceMsg("0549998877", "practiced lesson 1", ts)

	sum, err := s.Sync(context.Background(), []classify.Record{rec})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 1 {
		t.Errorf("summary = %+v, want created=1", sum)
	}

	var student StudentRecord
	found, err := docs.Find(context.Background(), CollectionStudents, "972 54-999-8877", &student)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("unknown student must still produce a record")
	}
	if !student.Flagged {
		t.Error("unknown student must be flagged for review")
	}
}

func TestStudentSyncSecondCycleIsNoop(t *testing.T) {
	fs := &fakeSheets{readRows: rosterRows()}
	docs := testDocs(t)
	ds := testDedup(t)
	s := NewStudentSync(fs, docs, ds, "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := practiceMsg("0522991474", "practiced lesson 4", ts)

	if _, err := s.Sync(context.Background(), []classify.Record{rec}); err != nil {
		t.Fatal(err)
	}
	// Source re-reads overlapping history.
	sum, err := s.Sync(context.Background(), []classify.Record{rec})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 0 || sum.Updated != 0 {
		t.Errorf("second cycle summary = %+v, want zero", sum)
	}
	if fs.appendedRows() != 1 {
		t.Errorf("practice log rows = %d, want 1", fs.appendedRows())
	}
}

func TestStudentSyncIdempotentReapply(t *testing.T) {
	// Simulates a crash between the document write and mark-seen: the same
	// record is applied twice; final state must equal a single application.
	fs := &fakeSheets{readRows: rosterRows()}
	docs := testDocs(t)
	ds := testDedup(t)
	s := NewStudentSync(fs, docs, ds, "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := practiceMsg("0522991474", "practiced lesson 4", ts)

	// First pass: sheet push fails after the document write, identity stays
	// unmarked.
	fs.appendErr = errors.New("rate limited")
	if _, err := s.Sync(context.Background(), []classify.Record{rec}); err == nil {
		t.Fatal("expected sheet failure")
	}
	if ds.Seen(rec.Msg.Group, rec.Msg.ID) {
		t.Fatal("identity must stay unmarked after partial failure")
	}

	// Retry cycle.
	fs.appendErr = nil
	if _, err := s.Sync(context.Background(), []classify.Record{rec}); err != nil {
		t.Fatal(err)
	}

	var student StudentRecord
	if _, err := docs.Find(context.Background(), CollectionStudents, "972 52-299-1474", &student); err != nil {
		t.Fatal(err)
	}
	if len(student.Practices) != 1 {
		t.Errorf("practices = %d, want 1 (merge must be idempotent)", len(student.Practices))
	}
}

func TestStudentSyncDuplicatePracticeIsNoop(t *testing.T) {
	fs := &fakeSheets{readRows: rosterRows()}
	docs := testDocs(t)
	s := NewStudentSync(fs, docs, testDedup(t), "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	// Two distinct messages reporting the same lesson at the same time.
	a := practiceMsg("0522991474", "practiced lesson 4", ts)
	b := practiceMsg("0522991474", "practiced lesson 4 again", ts)

	if _, err := s.Sync(context.Background(), []classify.Record{a, b}); err != nil {
		t.Fatal(err)
	}

	var student StudentRecord
	if _, err := docs.Find(context.Background(), CollectionStudents, "972 52-299-1474", &student); err != nil {
		t.Fatal(err)
	}
	if len(student.Practices) != 1 {
		t.Errorf("practices = %d, want 1 (duplicate lesson+timestamp is a no-op)", len(student.Practices))
	}
	if fs.appendedRows() != 1 {
		t.Errorf("practice log rows = %d, want 1", fs.appendedRows())
	}
}

func TestStudentSyncCheckInUpdatesCounters(t *testing.T) {
	fs := &fakeSheets{readRows: rosterRows()}
	docs := testDocs(t)
	s := NewStudentSync(fs, docs, testDedup(t), "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := practiceMsg("0522991474", "hello teacher, a question", ts)
	if rec.Kind != classify.KindCheckIn {
		t.Fatalf("kind = %q, want check_in", rec.Kind)
	}

	sum, err := s.Sync(context.Background(), []classify.Record{rec})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 1 {
		t.Errorf("summary = %+v, want created=1", sum)
	}

	var student StudentRecord
	if _, err := docs.Find(context.Background(), CollectionStudents, "972 52-299-1474", &student); err != nil {
		t.Fatal(err)
	}
	if student.TotalMessages != 1 {
		t.Errorf("total messages = %d, want 1", student.TotalMessages)
	}
	if !student.LastMessageAt.Equal(ts) {
		t.Errorf("last message at = %v, want %v", student.LastMessageAt, ts)
	}
	if fs.appendedRows() != 0 {
		t.Error("check-ins must not produce practice log rows")
	}
}

func TestStudentSyncRosterFillsLesson(t *testing.T) {
	fs := &fakeSheets{readRows: rosterRows()}
	docs := testDocs(t)
	s := NewStudentSync(fs, docs, testDedup(t), "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	// No lesson number in the message; roster says Omer is on lesson 2.
	rec := practiceMsg("0531112233", "practiced today", ts)

	if _, err := s.Sync(context.Background(), []classify.Record{rec}); err != nil {
		t.Fatal(err)
	}

	var student StudentRecord
	if _, err := docs.Find(context.Background(), CollectionStudents, "972 53-111-2233", &student); err != nil {
		t.Fatal(err)
	}
	if len(student.Practices) != 1 || student.Practices[0].Lesson != "2" {
		t.Errorf("practices = %v, want one lesson-2 event from roster", student.Practices)
	}
}

func TestStudentSyncRosterPullFailureAborts(t *testing.T) {
	fs := &fakeSheets{readRows: rosterRows(), readErr: errors.New("rate limited")}
	docs := testDocs(t)
	ds := testDedup(t)
	s := NewStudentSync(fs, docs, ds, "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := practiceMsg("0522991474", "practiced lesson 4", ts)

	if _, err := s.Sync(context.Background(), []classify.Record{rec}); err == nil {
		t.Fatal("expected roster pull failure")
	}
	if ds.Seen(rec.Msg.Group, rec.Msg.ID) {
		t.Error("identity must stay unmarked when the cycle aborts")
	}
}

func TestStudentSyncWritesHistory(t *testing.T) {
	fs := &fakeSheets{readRows: rosterRows()}
	docs := testDocs(t)
	s := NewStudentSync(fs, docs, testDedup(t), "students-sheet", nil)

	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := practiceMsg("0522991474", "practiced lesson 4", ts)

	if _, err := s.Sync(context.Background(), []classify.Record{rec}); err != nil {
		t.Fatal(err)
	}

	var entry HistoryEntry
	found, err := docs.Find(context.Background(), CollectionHistory, rec.Msg.ID, &entry)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("history entry not written")
	}
	if entry.Category != string(classify.KindPractice) {
		t.Errorf("category = %q, want practice", entry.Category)
	}
}
