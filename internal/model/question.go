package model

// Answer is one option of a question.
type Answer struct {
	ID   ID     `json:"id" binding:"required"`
	Text string `json:"answer"`
}

// Question is a single exam question with its ordered answer options.
type Question struct {
	ID             ID       `json:"id" binding:"required"`
	Text           string   `json:"question_name"`
	Answers        []Answer `json:"answers" binding:"required,min=1,dive"`
	ExamQuestionID ID       `json:"exam_question_id" binding:"required"`
}

// HasAnswer reports whether answerID is one of the question's options.
func (q *Question) HasAnswer(answerID ID) bool {
	_, ok := q.Answer(answerID)
	return ok
}

// Answer returns the option matching answerID.
func (q *Question) Answer(answerID ID) (Answer, bool) {
	for _, a := range q.Answers {
		if a.ID.Equal(answerID) {
			return a, true
		}
	}
	return Answer{}, false
}

// QuestionList is the backend envelope for the question set of an exam.
type QuestionList struct {
	Results []Question `json:"results" binding:"dive"`
}

// SubmitAnswerRequest records one answer for the running attempt.
type SubmitAnswerRequest struct {
	StudentExamID  ID `json:"student_exam_id"`
	ExamQuestionID ID `json:"exam_question_id"`
	AnswerID       ID `json:"answer_id"`
}

// CompleteExamRequest closes the running attempt.
type CompleteExamRequest struct {
	StudentExamID ID `json:"student_exam_id"`
}
