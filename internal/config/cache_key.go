package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CredentialKey returns the store key for a profile's access/refresh pair
func (r *CacheKeyStruct) CredentialKey(profile string) string {
	return fmt.Sprintf("portal:%s:credential", profile)
}

// StudentDataKey returns the store key for a profile's student profile
func (r *CacheKeyStruct) StudentDataKey(profile string) string {
	return fmt.Sprintf("portal:%s:student_data", profile)
}

// ActiveExamKey returns the store key for a profile's exam session snapshot
func (r *CacheKeyStruct) ActiveExamKey(profile string) string {
	return fmt.Sprintf("portal:%s:active_exam", profile)
}

var CacheKey = NewCacheKeyStruct()
