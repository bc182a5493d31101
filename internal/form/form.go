// Package form holds the enrollment identity form and its validation rules.
package form

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/example/faceid/internal/packager"
)

var phonePattern = regexp.MustCompile(`^[0-9+]+$`)

// Fields is the identity form as entered.
type Fields struct {
	ID        string `json:"id" validate:"max=64"`
	FirstName string `json:"firstName" validate:"required,max=50"`
	LastName  string `json:"lastName" validate:"required,max=50"`
	Age       int    `json:"age" validate:"gte=0,lte=150"`
	Gender    string `json:"gender" validate:"max=32"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"omitempty,phone"`
}

// Result is the validity of one form state. Errors is keyed by JSON field name.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`
}

// NewValidator returns a validator with the phone rule registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// Form is the current identity entry. Safe for concurrent use.
type Form struct {
	validate *validator.Validate

	mu     sync.RWMutex
	fields Fields
	result Result
}

// New returns an empty form. An empty form is invalid.
func New(v *validator.Validate) *Form {
	if v == nil {
		v = NewValidator()
	}
	f := &Form{validate: v}
	f.result = f.check(Fields{})
	return f
}

// Update replaces the form contents and returns the new validity.
func (f *Form) Update(fields Fields) Result {
	fields = normalize(fields)
	result := f.check(fields)

	f.mu.Lock()
	f.fields = fields
	f.result = result
	f.mu.Unlock()
	return result
}

// Reset clears the form.
func (f *Form) Reset() {
	f.Update(Fields{})
}

// Result returns the validity of the current contents.
func (f *Form) Result() Result {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.result
}

// Valid reports whether the current contents may be submitted.
func (f *Form) Valid() bool {
	return f.Result().Valid
}

// Fields returns the current contents.
func (f *Form) Fields() Fields {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fields
}

// Identity returns the enrollment metadata and whether the form is valid.
func (f *Form) Identity() (packager.Identity, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return packager.Identity{
		ID:        f.fields.ID,
		FirstName: f.fields.FirstName,
		LastName:  f.fields.LastName,
		Age:       f.fields.Age,
		Gender:    f.fields.Gender,
		Email:     f.fields.Email,
		Phone:     f.fields.Phone,
	}, f.result.Valid
}

func (f *Form) check(fields Fields) Result {
	err := f.validate.Struct(fields)
	if err == nil {
		return Result{Valid: true}
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Result{Errors: map[string]string{"form": err.Error()}}
	}
	out := Result{Errors: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		name := jsonName(fe.StructField())
		out.Errors[name] = message(name, fe)
	}
	return out
}

func normalize(fields Fields) Fields {
	fields.ID = strings.TrimSpace(fields.ID)
	fields.FirstName = strings.TrimSpace(fields.FirstName)
	fields.LastName = strings.TrimSpace(fields.LastName)
	fields.Gender = strings.TrimSpace(fields.Gender)
	fields.Email = strings.TrimSpace(fields.Email)
	fields.Phone = strings.TrimSpace(fields.Phone)
	return fields
}

func jsonName(field string) string {
	switch field {
	case "ID":
		return "id"
	case "FirstName":
		return "firstName"
	case "LastName":
		return "lastName"
	}
	return strings.ToLower(field)
}

func message(name string, fe validator.FieldError) string {
	label := map[string]string{"firstName": "First name", "lastName": "Last name"}[name]
	if label == "" {
		label = strings.ToUpper(name[:1]) + name[1:]
	}
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "max":
		return fmt.Sprintf("%s cannot exceed %s characters", label, fe.Param())
	case "email":
		return "Please enter a valid email address"
	case "phone":
		return "Phone number can only contain + and numbers"
	case "gte", "lte":
		return label + " is out of range"
	}
	return fmt.Sprintf("%s is invalid", label)
}
