package domain

const (
	EventNameSubmissionGraded = "submission.graded"
	EventNameSessionEnded     = "session.ended"
)

type EventSubmissionGraded struct {
	SessionID  string
	Submission Submission
	Result     GradeResult
}

func (EventSubmissionGraded) Name() string { return EventNameSubmissionGraded }

type EventSessionEnded struct {
	SessionID string
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }
