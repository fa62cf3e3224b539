package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
)

// SessionRepository persists the credential, the student profile and the
// active exam session snapshot of one profile.
type SessionRepository struct {
	kv      KV
	profile string
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(kv KV, profile string) *SessionRepository {
	return &SessionRepository{kv: kv, profile: profile}
}

// SetAuthData stores the credential pair and the student profile.
func (r *SessionRepository) SetAuthData(ctx context.Context, cred model.Credential, student model.StudentProfile) error {
	if err := r.put(ctx, config.CacheKey.CredentialKey(r.profile), cred); err != nil {
		return err
	}
	return r.put(ctx, config.CacheKey.StudentDataKey(r.profile), student)
}

// GetCredential returns the stored credential, or nil when logged out.
func (r *SessionRepository) GetCredential(ctx context.Context) (*model.Credential, error) {
	var cred model.Credential
	found, err := r.get(ctx, config.CacheKey.CredentialKey(r.profile), &cred)
	if err != nil || !found {
		return nil, err
	}
	return &cred, nil
}

// GetStudent returns the stored student profile, or nil when logged out.
func (r *SessionRepository) GetStudent(ctx context.Context) (*model.StudentProfile, error) {
	var student model.StudentProfile
	found, err := r.get(ctx, config.CacheKey.StudentDataKey(r.profile), &student)
	if err != nil || !found {
		return nil, err
	}
	return &student, nil
}

// ClearAuthData removes the credential and the student profile.
func (r *SessionRepository) ClearAuthData(ctx context.Context) error {
	return r.kv.Delete(ctx,
		config.CacheKey.CredentialKey(r.profile),
		config.CacheKey.StudentDataKey(r.profile),
	)
}

// AccessToken returns the stored access token, or "" when logged out.
func (r *SessionRepository) AccessToken(ctx context.Context) (string, error) {
	cred, err := r.GetCredential(ctx)
	if err != nil || cred == nil {
		return "", err
	}
	return cred.Access, nil
}

// SetExamData stores the exam session snapshot.
func (r *SessionRepository) SetExamData(ctx context.Context, exam *model.ExamSession) error {
	return r.put(ctx, config.CacheKey.ActiveExamKey(r.profile), exam)
}

// GetExamData returns the exam session snapshot, or nil when none is stored.
func (r *SessionRepository) GetExamData(ctx context.Context) (*model.ExamSession, error) {
	var exam model.ExamSession
	found, err := r.get(ctx, config.CacheKey.ActiveExamKey(r.profile), &exam)
	if err != nil || !found {
		return nil, err
	}
	return &exam, nil
}

// ClearExamData removes the exam session snapshot.
func (r *SessionRepository) ClearExamData(ctx context.Context) error {
	return r.kv.Delete(ctx, config.CacheKey.ActiveExamKey(r.profile))
}

// IsExamActive reports whether a stored snapshot is in progress and before its deadline.
func (r *SessionRepository) IsExamActive(ctx context.Context, now time.Time) (bool, error) {
	exam, err := r.GetExamData(ctx)
	if err != nil {
		return false, err
	}
	return exam.IsActive(now), nil
}

func (r *SessionRepository) put(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.kv.Set(ctx, key, raw)
}

func (r *SessionRepository) get(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := r.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w: %w", key, ErrCorruptRecord, err)
	}
	return true, nil
}
