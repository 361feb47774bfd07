package session

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/pribylovaa/schedscan-client/internal/models"
)

// maxNameLen — предел длины имени и фамилии на сервере.
const maxNameLen = 150

const (
	msgRequired      = "This field is required."
	msgInvalidEmail  = "Enter a valid email address."
	msgNameTooLong   = "Ensure this field has no more than 150 characters."
	msgPasswordMatch = "Password fields didn't match."
)

// fieldErrors копит ошибки по полям в формате DRF.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) { f[field] = append(f[field], msg) }

// validEmail допускает только голый адрес: "Name <a@b>" отклоняется.
func validEmail(raw string) bool {
	email := strings.TrimSpace(raw)
	if email == "" {
		return false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}

	return addr.Address == email
}

func validateLogin(email, password string) fieldErrors {
	errs := fieldErrors{}

	switch {
	case strings.TrimSpace(email) == "":
		errs.add("email", msgRequired)
	case !validEmail(email):
		errs.add("email", msgInvalidEmail)
	}

	if password == "" {
		errs.add("password", msgRequired)
	}

	return errs
}

func validateRegister(in models.RegisterInput) fieldErrors {
	errs := validateLogin(in.Email, in.Password)

	if in.PasswordConfirm != "" && in.PasswordConfirm != in.Password {
		errs.add("password", msgPasswordMatch)
	}

	validateName(errs, "first_name", in.FirstName)
	validateName(errs, "last_name", in.LastName)

	return errs
}

func validateName(errs fieldErrors, field, v string) {
	switch {
	case strings.TrimSpace(v) == "":
		errs.add(field, msgRequired)
	case utf8.RuneCountInString(v) > maxNameLen:
		errs.add(field, msgNameTooLong)
	}
}

// validateProfile проверяет только переданные поля частичного обновления.
func validateProfile(in models.ProfileUpdate) fieldErrors {
	errs := fieldErrors{}

	if in.FirstName != nil {
		validateName(errs, "first_name", *in.FirstName)
	}
	if in.LastName != nil {
		validateName(errs, "last_name", *in.LastName)
	}

	return errs
}
