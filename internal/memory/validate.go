package memory

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/rcliao/hybrid-memory/internal/model"
)

const (
	// MaxBatchSize bounds the number of drafts in one batch create.
	MaxBatchSize = 100
	// MaxSearchLimit bounds search and recent limits.
	MaxSearchLimit = 100
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct validates s against its struct tags.
func validateStruct(op string, s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		details := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, formatFieldError(fe))
		}
		return validationError(op, details...)
	}
	return validationError(op, err.Error())
}

// formatFieldError formats a single field validation error
func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	unit := ""
	if e.Kind() == reflect.String {
		unit = " characters"
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s%s", field, e.Param(), unit)
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s%s", field, e.Param(), unit)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func normalizeDraft(d model.Draft) (model.Draft, error) {
	d.Content = strings.TrimSpace(d.Content)
	d.Context = trimLabel(d.Context)
	d.UserID = trimLabel(d.UserID)
	d.ConversationID = trimLabel(d.ConversationID)
	d.Tags = cleanTags(d.Tags)
	if err := validateStruct("create", d); err != nil {
		return d, err
	}
	return d, nil
}

func normalizePatch(p model.Patch) (model.Patch, error) {
	if p.Content != nil {
		c := strings.TrimSpace(*p.Content)
		if c == "" {
			return p, validationError("update", "content must not be empty")
		}
		p.Content = &c
	}
	if p.Context != nil {
		// Blank stays a non-nil "" so the update clears the label.
		c := strings.TrimSpace(*p.Context)
		p.Context = &c
	}
	if p.Tags != nil {
		tags := cleanTags(*p.Tags)
		p.Tags = &tags
	}
	if err := validateStruct("update", p); err != nil {
		return p, err
	}
	return p, nil
}

func normalizeSearch(r SearchRequest, defaultLimit int) (SearchRequest, error) {
	r.Query = strings.TrimSpace(r.Query)
	if r.Limit == 0 {
		r.Limit = defaultLimit
	}
	r.Filters.Context = strings.TrimSpace(r.Filters.Context)
	r.Filters.UserID = strings.TrimSpace(r.Filters.UserID)
	r.Filters.ConversationID = strings.TrimSpace(r.Filters.ConversationID)
	r.Filters.Tags = cleanTags(r.Filters.Tags)
	if utf8.RuneCountInString(r.Query) > model.MaxContentLength {
		return r, validationError("search", fmt.Sprintf("query must be at most %d characters", model.MaxContentLength))
	}
	if err := validateStruct("search", r); err != nil {
		return r, err
	}
	return r, nil
}

func normalizeRecent(r RecentRequest, defaultLimit int) (RecentRequest, error) {
	if r.Limit == 0 {
		r.Limit = defaultLimit
	}
	r.UserID = strings.TrimSpace(r.UserID)
	r.Context = strings.TrimSpace(r.Context)
	if err := validateStruct("recent", r); err != nil {
		return r, err
	}
	return r, nil
}

// trimLabel trims an optional label; blank labels become nil.
func trimLabel(s *string) *string {
	if s == nil {
		return nil
	}
	return model.StringPtr(strings.TrimSpace(*s))
}

// cleanTags trims tags and drops empty ones, keeping order.
func cleanTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
