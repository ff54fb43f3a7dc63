package pipeline

import (
	"fmt"
	"strings"
)

const (
	SummaryCompleted             = "completed"
	SummaryCompletedWithFailures = "completed_with_failures"
	SummaryFailed                = "failed"
)

// Summary is the final report of a run.
type Summary struct {
	RunID           string        `json:"run_id"`
	Index           string        `json:"index"`
	Status          string        `json:"status"`
	Provider        string        `json:"provider,omitempty"`
	BooksProcessed  int           `json:"books_processed"`
	Interactions    int           `json:"interactions"`
	ColdStartBooks  int           `json:"cold_start_books"`
	Indexed         int           `json:"indexed"`
	DocumentsFailed int           `json:"documents_failed"`
	FailedBookIDs   []int64       `json:"failed_book_ids,omitempty"`
	FailedStage     State         `json:"failed_stage,omitempty"`
	FailureKind     string        `json:"failure_kind,omitempty"`
	Error           string        `json:"error,omitempty"`
	Stages          []StageTiming `json:"stages,omitempty"`
}

// ExitCode is 0 on success, 1 when a stage failed and 2 when the run
// finished but some documents were not written.
func (s Summary) ExitCode() int {
	switch {
	case s.Status == SummaryFailed:
		return 1
	case s.DocumentsFailed > 0:
		return 2
	default:
		return 0
	}
}

func (s Summary) Message() string {
	switch {
	case s.Status == SummaryFailed:
		return fmt.Sprintf("run %s FAILED at stage %s (%s): %s", s.RunID, s.FailedStage, s.FailureKind, s.Error)
	case s.DocumentsFailed > 0:
		ids := make([]string, 0, len(s.FailedBookIDs))
		for _, id := range s.FailedBookIDs {
			ids = append(ids, fmt.Sprint(id))
		}
		return fmt.Sprintf("run %s completed with document failures: %d books processed, %d indexed, %d documents failed (book_ids: %s)",
			s.RunID, s.BooksProcessed, s.Indexed, s.DocumentsFailed, strings.Join(ids, ", "))
	default:
		return fmt.Sprintf("run %s completed: %d books processed, %d indexed, 0 documents failed", s.RunID, s.BooksProcessed, s.Indexed)
	}
}
