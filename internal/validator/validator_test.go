package validator

import (
	"testing"

	"github.com/stemsi/exstem-portal/internal/model"
)

func TestStructReportsJSONFieldNames(t *testing.T) {
	resp := model.StartExamResponse{ExamID: "e1", StartTime: "2024-01-01T00:00:00Z", Status: model.SessionStatusInProgress, ExamTimer: 60}

	fields := Struct(&resp)
	if fields == nil {
		t.Fatal("expected missing student_exam_id to fail")
	}
	if _, ok := fields["StartExamResponse.student_exam_id"]; !ok {
		t.Fatalf("unexpected fields %v", fields)
	}

	resp.StudentExamID = "abc"
	if fields := Struct(&resp); fields != nil {
		t.Fatalf("expected valid payload, got %v", fields)
	}
}

func TestStructDivesIntoQuestions(t *testing.T) {
	list := model.QuestionList{Results: []model.Question{
		{ID: "1", ExamQuestionID: "11", Answers: []model.Answer{{ID: "a"}}},
		{ID: "2", ExamQuestionID: "12"},
	}}
	if fields := Struct(&list); fields == nil {
		t.Fatal("question without answers must fail")
	}
}

func TestFieldHelpers(t *testing.T) {
	cases := []struct {
		email string
		ok    bool
	}{
		{"student@school.id", true},
		{"  student@school.id ", true},
		{"student@school", false},
		{"no at.sign", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidEmail(tc.email); got != tc.ok {
			t.Errorf("IsValidEmail(%q) = %v", tc.email, got)
		}
	}

	if ok, _ := ValidatePassword("12345"); ok {
		t.Error("short password accepted")
	}
	if ok, msg := ValidatePassword(""); ok || msg != "Password is required" {
		t.Errorf("empty password: %v %q", ok, msg)
	}

	missing := ValidateRequiredFields(map[string]string{"email": "a@b.c", "password": "  "}, "email", "password")
	if len(missing) != 1 || missing[0] != "password" {
		t.Errorf("missing = %v", missing)
	}

	if !IsValidUUID("6f1c1d0e-8a4b-4c1e-9a51-2c9f7d1b3e20") || IsValidUUID("not-a-uuid") {
		t.Error("IsValidUUID mismatch")
	}
}
