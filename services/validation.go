package services

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"regexp"
	"strings"

	appContext "github.com/alphabatem/common/context"
	"github.com/gabriel-vasile/mimetype"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/microcosm-cc/bluemonday"
)

const INPUT_VALIDATOR_SVC = "input_validator_svc"

const defaultMaxUploadSize = 10 << 20

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*/?\s*script\b`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b`),
}

// InputValidator screens request payloads before they reach a handler.
type InputValidator struct {
	appContext.DefaultService

	policy *bluemonday.Policy
}

func NewInputValidator() *InputValidator {
	return &InputValidator{policy: bluemonday.StrictPolicy()}
}

func (svc InputValidator) Id() string {
	return INPUT_VALIDATOR_SVC
}

func (svc *InputValidator) Configure(ctx *appContext.Context) error {
	if svc.policy == nil {
		svc.policy = bluemonday.StrictPolicy()
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *InputValidator) Start() error {
	return nil
}

// SanitizeHTML strips every tag and escapes what is left.
func (svc *InputValidator) SanitizeHTML(input string) string {
	return svc.policy.Sanitize(input)
}

// ContainsInjection reports script tags, script URLs and inline event handlers.
func (svc *InputValidator) ContainsInjection(value string) bool {
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// SanitizeMongoQuery drops operator ($-prefixed) and dotted keys at any depth.
// The second result lists the removed keys.
func (svc *InputValidator) SanitizeMongoQuery(query map[string]interface{}) (map[string]interface{}, []string) {
	var removed []string
	clean := sanitizeMap(query, "", &removed)
	return clean, removed
}

func sanitizeMap(in map[string]interface{}, path string, removed *[]string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		fullKey := key
		if path != "" {
			fullKey = path + "." + key
		}
		if strings.HasPrefix(key, "$") || strings.Contains(key, ".") {
			*removed = append(*removed, fullKey)
			continue
		}
		out[key] = sanitizeValue(value, fullKey, removed)
	}
	return out
}

func sanitizeValue(value interface{}, path string, removed *[]string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return sanitizeMap(v, path, removed)
	case []interface{}:
		items := make([]interface{}, 0, len(v))
		for i, item := range v {
			items = append(items, sanitizeValue(item, fmt.Sprintf("%s[%d]", path, i), removed))
		}
		return items
	default:
		return value
	}
}

// InspectPayload walks a decoded JSON value and describes every injection marker or operator key.
func (svc *InputValidator) InspectPayload(value interface{}) []string {
	var findings []string
	svc.inspect(value, "", &findings)
	return findings
}

func (svc *InputValidator) inspect(value interface{}, path string, findings *[]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, item := range v {
			fullKey := key
			if path != "" {
				fullKey = path + "." + key
			}
			if strings.HasPrefix(key, "$") {
				*findings = append(*findings, "operator key "+fullKey)
			}
			svc.inspect(item, fullKey, findings)
		}
	case []interface{}:
		for i, item := range v {
			svc.inspect(item, fmt.Sprintf("%s[%d]", path, i), findings)
		}
	case string:
		if svc.ContainsInjection(v) {
			field := path
			if field == "" {
				field = "body"
			}
			*findings = append(*findings, "injection marker in "+field)
		}
	}
}

// ValidateAPIRequest decodes body into schema (a pointer to a struct) and runs its validate tags.
func (svc *InputValidator) ValidateAPIRequest(schema interface{}, body []byte) error {
	if err := shared.JSON().Unmarshal(body, schema); err != nil {
		return shared.NewValidationError("body", "malformed JSON body")
	}

	if v, ok := schema.(dto.Validator); ok {
		if err := v.Validate(); err != nil {
			return toValidationError(err)
		}
		return nil
	}

	if err := dto.GetValidator().Struct(schema); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	if fieldErrors := dto.FormatValidationErrors(err); len(fieldErrors) > 0 {
		return shared.NewValidationError(fieldErrors[0].Field, fieldErrors[0].Message)
	}
	return shared.NewValidationError("", err.Error())
}

// ValidateFileUpload checks size, file name and sniffed content type. An empty allow list accepts any type.
func (svc *InputValidator) ValidateFileUpload(file *multipart.FileHeader, allowedTypes []string, maxSize int64) error {
	if file == nil {
		return shared.NewValidationError("file", "file is required")
	}
	if maxSize <= 0 {
		maxSize = defaultMaxUploadSize
	}
	if file.Size <= 0 {
		return shared.NewValidationError("file", "file is empty")
	}
	if file.Size > maxSize {
		return shared.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", maxSize))
	}

	name := file.Filename
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return shared.NewValidationError("file", "invalid file name")
	}
	if svc.ContainsInjection(name) {
		return shared.NewValidationError("file", "invalid file name")
	}

	reader, err := file.Open()
	if err != nil {
		return shared.NewValidationError("file", "unreadable file")
	}
	defer reader.Close()

	detected, err := mimetype.DetectReader(reader)
	if err != nil {
		return shared.NewValidationError("file", "unreadable file")
	}

	if len(allowedTypes) == 0 {
		return nil
	}
	for _, allowed := range allowedTypes {
		if detected.Is(allowed) {
			return nil
		}
	}
	return shared.NewValidationError("file", "file type "+detected.String()+" is not allowed")
}
