// Package form validates submitted registration data against the
// field definitions of an event's active form.
package form

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"festreg/internal/model"
)

var (
	emailRe      = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	phoneRe      = regexp.MustCompile(`^\+?[1-9]\d{9,14}$`)
	phoneStripRe = regexp.MustCompile(`[\s-]`)
)

// Validate checks values against fields in schema order and returns a
// field-id -> message map. An empty map means the submission is valid.
// Malformed values never panic; they surface as per-field errors. Each
// field keeps only its first error, errors on different fields all
// accumulate.
func Validate(values map[string]any, fields []model.FormField) map[string]string {
	errs := make(map[string]string)

	for _, field := range fields {
		value := values[field.ID]

		if field.Required && isEmpty(value) {
			errs[field.ID] = fmt.Sprintf("%s is required", field.Label)
			continue
		}
		if isEmpty(value) {
			continue
		}

		if msg := checkKind(field, value); msg != "" {
			errs[field.ID] = msg
			continue
		}
		if field.Validation != nil {
			if msg := checkConstraints(field, value); msg != "" {
				errs[field.ID] = msg
			}
		}
	}

	return errs
}

// checkKind dispatches on the closed set of field kinds. Kinds without
// type-specific rules fall through to the constraint checks.
func checkKind(field model.FormField, value any) string {
	switch field.Type {
	case model.FieldEmail:
		return checkEmail(value)
	case model.FieldPhone:
		return checkPhone(value)
	case model.FieldText, model.FieldTextarea, model.FieldDropdown,
		model.FieldCheckbox, model.FieldRadio, model.FieldDate,
		model.FieldTime, model.FieldImage:
		return ""
	default:
		return fmt.Sprintf("%s has an unknown field type", field.Label)
	}
}

func checkEmail(value any) string {
	s, ok := asString(value)
	if !ok || !emailRe.MatchString(s) {
		return "Invalid email format"
	}
	return ""
}

func checkPhone(value any) string {
	s, ok := asString(value)
	if !ok {
		return "Invalid phone number"
	}
	s = phoneStripRe.ReplaceAllString(s, "")
	if !phoneRe.MatchString(s) {
		return "Invalid phone number"
	}
	return ""
}

func checkConstraints(field model.FormField, value any) string {
	rules := field.Validation

	if n, ok := length(value); ok {
		if rules.MinLength != nil && n < *rules.MinLength {
			return fmt.Sprintf("Minimum %d characters required", *rules.MinLength)
		}
		if rules.MaxLength != nil && n > *rules.MaxLength {
			return fmt.Sprintf("Maximum %d characters allowed", *rules.MaxLength)
		}
	}

	if rules.Pattern != "" {
		// A pattern the builder saved but Go cannot compile is skipped
		// rather than failing every submission.
		if re, err := regexp.Compile(rules.Pattern); err == nil {
			s, ok := asString(value)
			if !ok || !re.MatchString(s) {
				return fmt.Sprintf("Invalid format for %s", field.Label)
			}
		}
	}

	if rules.Min != nil || rules.Max != nil {
		if f, ok := asNumber(value); ok {
			if rules.Min != nil && f < *rules.Min {
				return fmt.Sprintf("Minimum value is %v", *rules.Min)
			}
			if rules.Max != nil && f > *rules.Max {
				return fmt.Sprintf("Maximum value is %v", *rules.Max)
			}
		}
	}

	return ""
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	default:
		return false
	}
}

func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// length counts runes for strings and items for multi-select answers.
func length(value any) (int, bool) {
	switch v := value.(type) {
	case string:
		return utf8.RuneCountInString(v), true
	case []any:
		return len(v), true
	case []string:
		return len(v), true
	default:
		return 0, false
	}
}
