package etl

import (
	"sort"
	"strconv"
	"time"
)

// PerformanceClass labels how a student works through the course relative to
// the cohort.
type PerformanceClass string

const (
	// PerfStar needs fewer practices than average and finishes lessons faster.
	PerfStar PerformanceClass = "star"
	// PerfHighRunner practices at or above average but still finishes fast.
	PerfHighRunner PerformanceClass = "high_runner"
	PerfNormal     PerformanceClass = "normal"
	// PerfInsufficientData means too few students completed the lesson for
	// the averages to mean anything.
	PerfInsufficientData PerformanceClass = "insufficient_data"
)

// minimumCohortSize is the smallest completed-lesson cohort the averages are
// trusted for.
const minimumCohortSize = 10

// LessonStats aggregates a student's practice events for one lesson.
type LessonStats struct {
	Lesson        int
	PracticeCount int
	First         time.Time
	Last          time.Time
	// TimeDays is the span from first to last practice, minimum one day
	// (same-day completion counts as one).
	TimeDays int
}

// LessonBreakdown folds the practice sequence into per-lesson stats, ordered
// by lesson number. Practices with a non-numeric lesson are skipped.
func (r *StudentRecord) LessonBreakdown() []LessonStats {
	byLesson := make(map[int]*LessonStats)
	for _, p := range r.Practices {
		num, err := strconv.Atoi(p.Lesson)
		if err != nil {
			continue
		}
		ls, ok := byLesson[num]
		if !ok {
			ls = &LessonStats{Lesson: num, First: p.Timestamp, Last: p.Timestamp}
			byLesson[num] = ls
		}
		ls.PracticeCount++
		if p.Timestamp.Before(ls.First) {
			ls.First = p.Timestamp
		}
		if p.Timestamp.After(ls.Last) {
			ls.Last = p.Timestamp
		}
	}

	out := make([]LessonStats, 0, len(byLesson))
	for _, ls := range byLesson {
		ls.TimeDays = lessonTimeDays(ls.First, ls.Last)
		out = append(out, *ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lesson < out[j].Lesson })
	return out
}

func lessonTimeDays(first, last time.Time) int {
	days := int(last.Sub(first).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

func (r *StudentRecord) currentLessonNum() int {
	n, err := strconv.Atoi(r.CurrentLesson)
	if err != nil {
		return 0
	}
	return n
}

type cohortStats struct {
	size        int
	avgPractice float64
	avgTimeDays float64
}

// cohortStatsByLesson averages practice count and lesson time over every
// student who has practice data for the lesson.
func cohortStatsByLesson(students []*StudentRecord) map[int]cohortStats {
	sums := make(map[int]*cohortStats)
	for _, r := range students {
		for _, ls := range r.LessonBreakdown() {
			cs, ok := sums[ls.Lesson]
			if !ok {
				cs = &cohortStats{}
				sums[ls.Lesson] = cs
			}
			cs.size++
			cs.avgPractice += float64(ls.PracticeCount)
			cs.avgTimeDays += float64(ls.TimeDays)
		}
	}

	out := make(map[int]cohortStats, len(sums))
	for lesson, cs := range sums {
		out[lesson] = cohortStats{
			size:        cs.size,
			avgPractice: cs.avgPractice / float64(cs.size),
			avgTimeDays: cs.avgTimeDays / float64(cs.size),
		}
	}
	return out
}

func classifyLesson(ls LessonStats, cs cohortStats) PerformanceClass {
	if cs.size < minimumCohortSize {
		return PerfInsufficientData
	}
	fast := float64(ls.TimeDays) < cs.avgTimeDays
	if float64(ls.PracticeCount) < cs.avgPractice && fast {
		return PerfStar
	}
	if fast {
		return PerfHighRunner
	}
	return PerfNormal
}

// overallClass picks the most common lesson class, ignoring
// insufficient-data lessons. Ties break star over high runner over normal;
// no classified lessons means normal.
func overallClass(classes []PerformanceClass) PerformanceClass {
	counts := make(map[PerformanceClass]int)
	for _, c := range classes {
		if c == PerfInsufficientData {
			continue
		}
		counts[c]++
	}
	if len(counts) == 0 {
		return PerfNormal
	}

	max := 0
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	for _, c := range []PerformanceClass{PerfStar, PerfHighRunner, PerfNormal} {
		if counts[c] == max {
			return c
		}
	}
	return PerfNormal
}

// ClassifyCohort computes every student's overall class against the cohort
// averages. Only lessons the student has progressed past count; a lesson
// still in progress says nothing about how fast it was finished.
func ClassifyCohort(students []*StudentRecord) map[string]PerformanceClass {
	stats := cohortStatsByLesson(students)

	out := make(map[string]PerformanceClass, len(students))
	for _, r := range students {
		current := r.currentLessonNum()
		var classes []PerformanceClass
		for _, ls := range r.LessonBreakdown() {
			if current <= ls.Lesson {
				continue
			}
			classes = append(classes, classifyLesson(ls, stats[ls.Lesson]))
		}
		out[r.Phone] = overallClass(classes)
	}
	return out
}
