package classify

import (
	"time"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/source"
)

// Kind tags a classified record.
type Kind string

const (
	// KindSale is a sales-lead message with extractable lead fields.
	KindSale Kind = "sale"
	// KindPractice is a student reporting a completed practice.
	KindPractice Kind = "practice"
	// KindCheckIn is a student check-in that counts toward message totals
	// but carries no practice event.
	KindCheckIn Kind = "check_in"
	// KindUnrecognized is everything else. Never an error.
	KindUnrecognized Kind = "unrecognized"
)

// SaleLead holds the fields extracted from a lead message.
type SaleLead struct {
	Source string
	Name   string
	Email  string
	Phone  string
}

// PracticeEvent is one reported practice. Lesson may be empty when the
// message does not name one; the roster's current lesson fills it in during
// sync.
type PracticeEvent struct {
	Student   string
	Lesson    string
	Timestamp time.Time
}

// Record is the classified form of a RawMessage. Produced once, never mutated.
type Record struct {
	Kind Kind
	Msg  source.RawMessage

	Sale     *SaleLead      // set when Kind == KindSale
	Practice *PracticeEvent // set when Kind == KindPractice
}
