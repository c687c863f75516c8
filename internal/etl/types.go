package etl

import "time"

// Document store collections.
const (
	CollectionStudents = "student_stats"
	CollectionHistory  = "message_history"
)

// Sheet ranges. The roster sheet keeps one student per row:
// A=phone, B=name, C=current lesson, D=last practice, E=teacher.
const (
	RosterRange      = "main!A2:E"
	SalesAppendRange = "main!B:F"
	PracticeLogRange = "practice_log!A:E"
)

// Practice is one practice event inside a StudentRecord. Events are unique by
// (Lesson, Timestamp) and never reordered or deleted.
type Practice struct {
	Lesson    string    `json:"lesson"`
	Timestamp time.Time `json:"timestamp"`
}

// StudentRecord is the per-student document. StudentSync is its only writer.
type StudentRecord struct {
	Phone         string     `json:"phone_number"`
	Name          string     `json:"name"`
	Teacher       string     `json:"teacher"`
	CurrentLesson string     `json:"current_lesson"`
	// Flagged marks students observed in chat but missing from the roster,
	// for teacher review.
	Flagged       bool       `json:"flagged"`
	TotalMessages int        `json:"total_messages"`
	LastMessageAt time.Time  `json:"last_message_at,omitempty"`
	// Performance is derived from the practice sequence against the cohort
	// averages; recomputed after every merge that changes practice data.
	Performance PerformanceClass `json:"performance,omitempty"`
	Practices   []Practice       `json:"practices"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// HasPractice reports whether an equal (lesson, timestamp) event already
// exists in the sequence.
func (r *StudentRecord) HasPractice(lesson string, ts time.Time) bool {
	for _, p := range r.Practices {
		if p.Lesson == lesson && p.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

// AddPractice appends a practice event unless an equal one exists. Duplicate
// events are a no-op, which is what makes the merge idempotent. Reports
// whether the record changed.
func (r *StudentRecord) AddPractice(lesson string, ts time.Time) bool {
	if r.HasPractice(lesson, ts) {
		return false
	}
	r.Practices = append(r.Practices, Practice{Lesson: lesson, Timestamp: ts})
	return true
}

// HistoryEntry is the per-message document kept for auditing, keyed by the
// message identity so re-writes are idempotent.
type HistoryEntry struct {
	Phone     string    `json:"phone_number"`
	Name      string    `json:"name"`
	Teacher   string    `json:"teacher"`
	Lesson    string    `json:"lesson"`
	Category  string    `json:"message_category"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary reports what a student sync cycle did.
type Summary struct {
	Created int
	Updated int
}
