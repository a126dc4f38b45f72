package form

import (
	"testing"

	"festreg/internal/model"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func basicFields() []model.FormField {
	return []model.FormField{
		{ID: "f1", Type: model.FieldText, Label: "Full Name", Required: true},
		{ID: "f2", Type: model.FieldEmail, Label: "Email", Required: true},
		{ID: "f3", Type: model.FieldPhone, Label: "Phone"},
	}
}

func TestValidateRequiredFieldMissing(t *testing.T) {
	values := map[string]any{
		"f2": "alice@example.com",
	}

	errs := Validate(values, basicFields())

	if len(errs) != 1 {
		t.Fatalf("expected exactly 1 error, got %d: %v", len(errs), errs)
	}
	if got := errs["f1"]; got != "Full Name is required" {
		t.Errorf("unexpected message for f1: %q", got)
	}
}

func TestValidateEmptyStringCountsAsMissing(t *testing.T) {
	values := map[string]any{
		"f1": "",
		"f2": "alice@example.com",
	}

	errs := Validate(values, basicFields())
	if _, ok := errs["f1"]; !ok {
		t.Error("expected required error for empty string value")
	}
}

func TestValidateOptionalEmptySkipsChecks(t *testing.T) {
	// f3 is an optional phone field; leaving it out must not produce a
	// phone-format error.
	values := map[string]any{
		"f1": "Alice",
		"f2": "alice@example.com",
	}

	if errs := Validate(values, basicFields()); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidateEmailFormat(t *testing.T) {
	cases := []struct {
		value any
		ok    bool
	}{
		{"alice@example.com", true},
		{"a@b.co", true},
		{"not-an-email", false},
		{"missing@tld", false},
		{"@example.com", false},
		{42.0, false}, // malformed input becomes a field error, not a panic
	}

	fields := []model.FormField{{ID: "e", Type: model.FieldEmail, Label: "Email", Required: true}}
	for _, tc := range cases {
		errs := Validate(map[string]any{"e": tc.value}, fields)
		if tc.ok && len(errs) != 0 {
			t.Errorf("value %v: expected valid, got %v", tc.value, errs)
		}
		if !tc.ok && errs["e"] != "Invalid email format" {
			t.Errorf("value %v: expected email error, got %v", tc.value, errs)
		}
	}
}

func TestValidatePhoneFormat(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"+14155551234", true},
		{"4155551234", true},
		{"+1 415-555-1234", true},    // whitespace and hyphens stripped first
		{"+1 415\n555\t1234", true},  // any whitespace kind, not just spaces
		{"0123456789", false},        // leading zero
		{"12345", false},             // too short
		{"+1234567890123456", false}, // too long
	}

	fields := []model.FormField{{ID: "p", Type: model.FieldPhone, Label: "Phone", Required: true}}
	for _, tc := range cases {
		errs := Validate(map[string]any{"p": tc.value}, fields)
		if tc.ok && len(errs) != 0 {
			t.Errorf("value %q: expected valid, got %v", tc.value, errs)
		}
		if !tc.ok && errs["p"] != "Invalid phone number" {
			t.Errorf("value %q: expected phone error, got %v", tc.value, errs)
		}
	}
}

func TestValidateLengthBounds(t *testing.T) {
	fields := []model.FormField{{
		ID: "t", Type: model.FieldText, Label: "Team Name", Required: true,
		Validation: &model.FieldConstraints{MinLength: intPtr(3), MaxLength: intPtr(5)},
	}}

	if errs := Validate(map[string]any{"t": "ab"}, fields); errs["t"] != "Minimum 3 characters required" {
		t.Errorf("short value: got %v", errs)
	}
	if errs := Validate(map[string]any{"t": "abcdef"}, fields); errs["t"] != "Maximum 5 characters allowed" {
		t.Errorf("long value: got %v", errs)
	}
	if errs := Validate(map[string]any{"t": "abcd"}, fields); len(errs) != 0 {
		t.Errorf("in-range value: got %v", errs)
	}
}

func TestValidatePattern(t *testing.T) {
	fields := []model.FormField{{
		ID: "roll", Type: model.FieldText, Label: "Roll Number", Required: true,
		Validation: &model.FieldConstraints{Pattern: `^[A-Z]{2}\d{4}$`},
	}}

	if errs := Validate(map[string]any{"roll": "AB1234"}, fields); len(errs) != 0 {
		t.Errorf("matching value: got %v", errs)
	}
	if errs := Validate(map[string]any{"roll": "nope"}, fields); errs["roll"] != "Invalid format for Roll Number" {
		t.Errorf("non-matching value: got %v", errs)
	}
}

func TestValidateNumericBounds(t *testing.T) {
	fields := []model.FormField{{
		ID: "size", Type: model.FieldText, Label: "Team Size", Required: true,
		Validation: &model.FieldConstraints{Min: floatPtr(2), Max: floatPtr(6)},
	}}

	if errs := Validate(map[string]any{"size": "1"}, fields); errs["size"] != "Minimum value is 2" {
		t.Errorf("below min: got %v", errs)
	}
	if errs := Validate(map[string]any{"size": "9"}, fields); errs["size"] != "Maximum value is 6" {
		t.Errorf("above max: got %v", errs)
	}
	if errs := Validate(map[string]any{"size": "4"}, fields); len(errs) != 0 {
		t.Errorf("in range: got %v", errs)
	}
	// Numbers arrive as float64 from JSON decoding.
	if errs := Validate(map[string]any{"size": 4.0}, fields); len(errs) != 0 {
		t.Errorf("numeric value in range: got %v", errs)
	}
}

func TestValidateFieldStopsAfterFirstError(t *testing.T) {
	// Required wins and suppresses the email-format check.
	fields := []model.FormField{{ID: "e", Type: model.FieldEmail, Label: "Email", Required: true}}

	errs := Validate(map[string]any{}, fields)
	if errs["e"] != "Email is required" {
		t.Errorf("expected the required message only, got %q", errs["e"])
	}
}

func TestValidateErrorsAccumulateAcrossFields(t *testing.T) {
	fields := []model.FormField{
		{ID: "a", Type: model.FieldText, Label: "A", Required: true},
		{ID: "b", Type: model.FieldEmail, Label: "B", Required: true},
		{ID: "c", Type: model.FieldText, Label: "C"},
	}

	errs := Validate(map[string]any{"b": "bad", "c": "fine"}, fields)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if _, ok := errs["a"]; !ok {
		t.Error("missing required error for a")
	}
	if _, ok := errs["b"]; !ok {
		t.Error("missing format error for b")
	}
}

func TestValidateCheckboxValues(t *testing.T) {
	fields := []model.FormField{{
		ID: "langs", Type: model.FieldCheckbox, Label: "Languages", Required: true,
		Options: []string{"Go", "Rust", "Python"},
	}}

	if errs := Validate(map[string]any{"langs": []any{}}, fields); errs["langs"] != "Languages is required" {
		t.Errorf("empty selection: got %v", errs)
	}
	if errs := Validate(map[string]any{"langs": []any{"Go", "Rust"}}, fields); len(errs) != 0 {
		t.Errorf("selection: got %v", errs)
	}
}

func TestValidateUnknownFieldType(t *testing.T) {
	fields := []model.FormField{{ID: "x", Type: "hologram", Label: "X", Required: true}}

	errs := Validate(map[string]any{"x": "value"}, fields)
	if _, ok := errs["x"]; !ok {
		t.Error("expected an error for an unknown field type")
	}
}
