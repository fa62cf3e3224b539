package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

func newTestClient(t *testing.T, setup func(r *gin.Engine)) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	setup(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, nil, staticToken("tok-123"), zerolog.Nop())
}

func TestBearerAndStartExamPayload(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	c := newTestClient(t, func(r *gin.Engine) {
		r.POST("/api/start-exam", func(ctx *gin.Context) {
			gotAuth = ctx.GetHeader("Authorization")
			_ = ctx.ShouldBindJSON(&gotBody)
			ctx.JSON(http.StatusCreated, gin.H{
				"student_exam_id": 42,
				"exam_id":         7,
				"exam_name":       "Biology",
				"start_time":      "2024-01-01T00:00:00Z",
				"status":          "in_progress",
				"max_exam_score":  100,
				"exam_timer":      600,
			})
		})
	})

	resp, err := c.StartExam(context.Background(), model.ID("7"))
	if err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if v, ok := gotBody["exam_id"].(float64); !ok || v != 7 {
		t.Fatalf("exam_id sent as %#v", gotBody["exam_id"])
	}
	if resp.StudentExamID != "42" || resp.ExamTimer != 600 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestErrorDetailIsSurfaced(t *testing.T) {
	c := newTestClient(t, func(r *gin.Engine) {
		r.POST("/api/submit-answer", func(ctx *gin.Context) {
			ctx.JSON(http.StatusBadRequest, gin.H{"detail": "Question already answered."})
		})
		r.POST("/api/complete-exam", func(ctx *gin.Context) {
			ctx.String(http.StatusInternalServerError, "<html>oops</html>")
		})
	})

	err := c.SubmitAnswer(context.Background(), "1", "2", "3")
	appErr, ok := apperror.As(err)
	if !ok || appErr.Kind != apperror.KindTransport || appErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected error %#v", err)
	}
	if appErr.Message() != "Question already answered." {
		t.Fatalf("message = %q", appErr.Message())
	}

	err = c.CompleteExam(context.Background(), "1")
	if apperror.MessageOf(err) != "Request failed" {
		t.Fatalf("fallback message = %q", apperror.MessageOf(err))
	}
}

func TestListExamsAcceptsBothShapes(t *testing.T) {
	exams := []gin.H{{"id": 1, "exam_name": "Math", "is_active": true}, {"id": 2, "exam_name": "Art"}}

	for name, body := range map[string]interface{}{
		"envelope": gin.H{"results": exams},
		"bare":     exams,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(r *gin.Engine) {
				r.GET("/api/exams", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, body) })
			})
			got, err := c.ListExams(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0].Name != "Math" || !got[0].IsActive {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestGetQuestionsValidatesPayload(t *testing.T) {
	var gotExamID string
	c := newTestClient(t, func(r *gin.Engine) {
		r.GET("/api/questions", func(ctx *gin.Context) {
			gotExamID = ctx.Query("exam_id")
			if gotExamID == "broken" {
				ctx.JSON(http.StatusOK, gin.H{"results": []gin.H{{"id": 1, "question_name": "Q1"}}})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"results": []gin.H{{
				"id": 1, "question_name": "Q1", "exam_question_id": 11,
				"answers": []gin.H{{"id": 100, "answer": "A"}, {"id": 101, "answer": "B"}},
			}}})
		})
	})

	qs, err := c.GetQuestions(context.Background(), "e1")
	if err != nil {
		t.Fatal(err)
	}
	if gotExamID != "e1" || len(qs) != 1 || len(qs[0].Answers) != 2 || qs[0].ExamQuestionID != "11" {
		t.Fatalf("unexpected questions %+v (exam_id=%s)", qs, gotExamID)
	}

	_, err = c.GetQuestions(context.Background(), "broken")
	if !apperror.IsKind(err, apperror.KindDataIntegrity) {
		t.Fatalf("expected data integrity error, got %v", err)
	}
}

func TestNetworkFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, nil, nil, zerolog.Nop())
	_, err := c.ListExams(context.Background())
	if apperror.CodeOf(err) != apperror.ErrNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}
