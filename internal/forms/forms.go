// Package forms turns submitted form values into typed, validated inputs.
//
// Every parse function is pure: it returns the typed input together with the
// field errors found, and the input is only meaningful when no errors were found.
package forms

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// RegisterInput holds a validated registration form.
type RegisterInput struct {
	Username  string `form:"username" validate:"required,max=20,username"`
	Password  string `form:"password" validate:"required,max=72"`
	Email     string `form:"email" validate:"required,email,max=50"`
	FirstName string `form:"first_name" validate:"required,max=30"`
	LastName  string `form:"last_name" validate:"required,max=30"`
}

// LoginInput holds a validated login form.
type LoginInput struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

// FeedbackInput holds a validated feedback form.
type FeedbackInput struct {
	Title   string `form:"title" validate:"required,max=100"`
	Content string `form:"content" validate:"required"`
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})
	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Register parses a registration form.
func Register(values url.Values) (RegisterInput, Errors) {
	in := RegisterInput{
		Username:  strings.TrimSpace(values.Get("username")),
		Password:  values.Get("password"),
		Email:     strings.TrimSpace(values.Get("email")),
		FirstName: strings.TrimSpace(values.Get("first_name")),
		LastName:  strings.TrimSpace(values.Get("last_name")),
	}
	return in, check(in)
}

// Login parses a login form.
func Login(values url.Values) (LoginInput, Errors) {
	in := LoginInput{
		Username: strings.TrimSpace(values.Get("username")),
		Password: values.Get("password"),
	}
	return in, check(in)
}

// Feedback parses a feedback form.
func Feedback(values url.Values) (FeedbackInput, Errors) {
	in := FeedbackInput{
		Title:   strings.TrimSpace(values.Get("title")),
		Content: strings.TrimSpace(values.Get("content")),
	}
	return in, check(in)
}

func check(in any) Errors {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return Errors{"": {err.Error()}}
	}

	errs := Errors{}
	for _, fe := range verrs {
		errs.Add(fe.Field(), message(fe))
	}
	return errs
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		return fmt.Sprintf("Must be at most %s characters.", fe.Param())
	case "email":
		return "Invalid email address."
	case "username":
		return "Only letters, digits, '.', '_' and '-' are allowed."
	default:
		return "Invalid value."
	}
}

// Errors maps a form field name to its messages.
type Errors map[string][]string

// Add appends a message for field.
func (e Errors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Get returns the messages for field.
func (e Errors) Get(field string) []string {
	return e[field]
}

// Any reports whether at least one error was recorded.
func (e Errors) Any() bool {
	return len(e) > 0
}

func (e Errors) Error() string {
	fields := lo.Keys(e)
	sort.Strings(fields)
	parts := lo.Map(fields, func(field string, _ int) string {
		return field + ": " + strings.Join(e[field], " ")
	})
	return "invalid form: " + strings.Join(parts, "; ")
}
