package models

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	dErrors "visitorpass/pkg/domain-errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// RegisterRequest is the registration form. Photo upload is handled elsewhere;
// only a reference is carried.
type RegisterRequest struct {
	Name           string `json:"visitor_name" validate:"required,max=128"`
	Mobile         string `json:"visitor_mobile" validate:"required,max=32"`
	Email          string `json:"visitor_email" validate:"omitempty,email,max=254"`
	Purpose        string `json:"purpose" validate:"required,max=256"`
	PersonToMeet   string `json:"person_to_meet" validate:"required,max=128"`
	ApproverMobile string `json:"approver_mobile" validate:"required,max=32"`
	VisitDate      string `json:"visit_date" validate:"required,datetime=2006-01-02"`
	VisitTime      string `json:"visit_time" validate:"required,datetime=15:04"`
	PhotoURL       string `json:"photo_url" validate:"omitempty,url,max=2048"`
}

// Normalize trims whitespace from every field.
func (r *RegisterRequest) Normalize() {
	for _, f := range []*string{
		&r.Name, &r.Mobile, &r.Email, &r.Purpose, &r.PersonToMeet,
		&r.ApproverMobile, &r.VisitDate, &r.VisitTime, &r.PhotoURL,
	} {
		*f = strings.TrimSpace(*f)
	}
}

// Validate normalises and checks the request, reporting the first failing field.
func (r *RegisterRequest) Validate() error {
	r.Normalize()
	if err := getValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return dErrors.Newf(dErrors.CodeValidation, "%s is %s", fe.Field(), describeTag(fe.Tag()))
		}
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid registration")
	}
	return nil
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "email":
		return "not a valid email address"
	case "url":
		return "not a valid URL"
	case "datetime":
		return "not in the expected format"
	case "max":
		return "too long"
	}
	return "invalid"
}
