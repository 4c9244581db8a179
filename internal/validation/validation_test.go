package validation

import (
	"errors"
	"strings"
	"testing"

	"gatehouse.dev/internal/errs"
)

type sample struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,min=2,max=5"`
	Slug  string `json:"slug" validate:"omitempty,slug"`
	Days  *int   `json:"expires_in_days" validate:"omitempty,min=1,max=365"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	days := 400
	err := Struct(sample{Email: "nope", Name: "x", Slug: "Bad Slug", Days: &days})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, want := range []string{
		"email must be a valid email address",
		"name must be at least 2 characters",
		"slug must contain",
		"expires_in_days must be at most 365",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}

func TestStructAcceptsValidInput(t *testing.T) {
	if err := Struct(sample{Email: "a@b.com", Name: "Ann", Slug: "api-keys.view"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
