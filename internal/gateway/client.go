package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apperror"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/validator"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// TokenSource supplies the bearer credential attached to each request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client talks to the exam backend.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     zerolog.Logger
}

// NewClient creates a Client. A nil httpClient gets a client with timeout.
// tokens may be nil, in which case requests are sent anonymously.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client, tokens TokenSource, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		log:     log.With().Str("component", "gateway").Logger(),
	}
}

// Login exchanges email and password for a credential pair.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var resp model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, model.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if err := checkPayload(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListExams returns the exam catalog. The backend answers either with
// {"results": [...]} or with a bare array.
func (c *Client) ListExams(ctx context.Context) ([]model.ExamDescriptor, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/exams", nil, nil, &raw); err != nil {
		return nil, err
	}

	var list struct {
		Results []model.ExamDescriptor `json:"results" binding:"dive"`
	}
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &list.Results); err != nil {
			return nil, apperror.DataIntegrity(apperror.ErrInvalidPayload, "", err)
		}
	default:
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, apperror.DataIntegrity(apperror.ErrInvalidPayload, "", err)
		}
	}
	if err := checkPayload(&list); err != nil {
		return nil, err
	}
	if list.Results == nil {
		list.Results = []model.ExamDescriptor{}
	}
	return list.Results, nil
}

// StartExam begins an attempt at examID.
func (c *Client) StartExam(ctx context.Context, examID model.ID) (*model.StartExamResponse, error) {
	var resp model.StartExamResponse
	if err := c.do(ctx, http.MethodPost, "/api/start-exam", nil, model.StartExamRequest{ExamID: examID}, &resp); err != nil {
		return nil, err
	}
	if err := checkPayload(&resp); err != nil {
		return nil, err
	}
	if _, err := model.ParseTimestamp(resp.StartTime); err != nil {
		return nil, apperror.DataIntegrity(apperror.ErrInvalidPayload, "", err)
	}
	return &resp, nil
}

// GetQuestions returns the ordered question set of examID.
func (c *Client) GetQuestions(ctx context.Context, examID model.ID) ([]model.Question, error) {
	var list model.QuestionList
	query := url.Values{"exam_id": {examID.String()}}
	if err := c.do(ctx, http.MethodGet, "/api/questions", query, nil, &list); err != nil {
		return nil, err
	}
	if err := checkPayload(&list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

// SubmitAnswer records answerID for one question of the running attempt.
func (c *Client) SubmitAnswer(ctx context.Context, studentExamID, examQuestionID, answerID model.ID) error {
	req := model.SubmitAnswerRequest{
		StudentExamID:  studentExamID,
		ExamQuestionID: examQuestionID,
		AnswerID:       answerID,
	}
	return c.do(ctx, http.MethodPost, "/api/submit-answer", nil, req, nil)
}

// CompleteExam closes the attempt.
func (c *Client) CompleteExam(ctx context.Context, studentExamID model.ID) error {
	return c.do(ctx, http.MethodPost, "/api/complete-exam", nil, model.CompleteExamRequest{StudentExamID: studentExamID}, nil)
}

// do issues one request. body is JSON encoded when non-nil; out receives
// the decoded 2xx body when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	reqID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("Read access token failed, sending anonymously")
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	log := c.log.With().Str("method", method).Str("path", path).Str("request_id", reqID).Logger()
	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("Request failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperror.Transport(apperror.ErrNetwork, 0, "", ctxErr)
		}
		return apperror.Transport(apperror.ErrNetwork, 0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apperror.Transport(apperror.ErrNetwork, resp.StatusCode, "", err)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("Request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperror.Transport(apperror.ErrRequestFailed, resp.StatusCode, errorDetail(raw), nil)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperror.DataIntegrity(apperror.ErrInvalidPayload, "", err)
	}
	return nil
}

// errorDetail extracts the server's "detail" message, falling back to
// "Request failed".
func errorDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return apperror.GetMessage(apperror.ErrRequestFailed)
	}
	var detail string
	if err := json.Unmarshal(body.Detail, &detail); err == nil && detail != "" {
		return detail
	}
	return apperror.GetMessage(apperror.ErrRequestFailed)
}

func checkPayload(v interface{}) error {
	if fields := validator.Struct(v); fields != nil {
		return &apperror.Error{
			Kind:   apperror.KindDataIntegrity,
			Code:   apperror.ErrInvalidPayload,
			Fields: fields,
			Err:    errors.New(firstField(fields)),
		}
	}
	return nil
}

func firstField(fields map[string]string) string {
	for k, v := range fields {
		return k + ": " + v
	}
	return ""
}
