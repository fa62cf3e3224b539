package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"
)

// trans is the singleton English translator for validation errors.
var (
	trans     ut.Translator
	setupOnce sync.Once
)

// Setup registers the validator with English translations on Gin's binding engine.
// Safe to call more than once; Struct and Bind call it lazily.
func Setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}
		// Use JSON tag name for field names in error messages.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)
	})
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	return translate(err, false)
}

// translate keys fields by their JSON name, or by their full namespace
// (e.g. QuestionList.results[1].answers) when namespaced is set.
func translate(err error, namespaced bool) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			key := fe.Field()
			if namespaced {
				key = fe.Namespace()
			}
			fields[key] = fe.Translate(trans)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Struct validates v against its binding tags.
// Returns nil on success or a namespaced, translated field error map on failure.
func Struct(v interface{}) map[string]string {
	Setup()
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return translate(err, true)
	}
	return nil
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	Setup()
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail reports whether email looks like an address.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && emailPattern.MatchString(email)
}

// ValidatePassword returns an empty message when password is acceptable.
func ValidatePassword(password string) (bool, string) {
	if password == "" {
		return false, "Password is required"
	}
	if len(password) < 6 {
		return false, "Password must be at least 6 characters long"
	}
	return true, ""
}

// ValidateRequiredFields lists the keys of data whose value is blank.
func ValidateRequiredFields(data map[string]string, required ...string) []string {
	var missing []string
	for _, field := range required {
		if strings.TrimSpace(data[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// SanitizeString trims surrounding whitespace.
func SanitizeString(input string) string {
	return strings.TrimSpace(input)
}

// IsValidUUID reports whether s is a canonical UUID.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
