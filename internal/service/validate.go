package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/user-manager/internal/apperror"
	"github.com/sakif/user-manager/internal/auth"
	"github.com/sakif/user-manager/internal/model"
)

// Field limits, matching the column sizes of the users table.
const (
	MaxUsernameLength = 64
	MaxEmailLength    = 128
	MaxFullNameLength = 128
)

// markupPattern is a content-safety gate for names, not a sanitiser: it
// rejects anything that looks like an HTML tag, an opening <script, or a
// javascript: URL.
var markupPattern = regexp.MustCompile(`(?i)<\s*/?\s*[a-z!][^>]*>|<\s*script|javascript\s*:`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("nomarkup", func(fl validator.FieldLevel) bool {
		return !markupPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// RegisterInput is the request schema for registration.
type RegisterInput struct {
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	FullName string     `json:"fullName"`
	Role     model.Role `json:"role"`
}

// Validate normalises the input in place and checks it in a fixed order:
// required fields, email grammar, markup, then limits and role.
func (in *RegisterInput) Validate() error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normaliseEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)

	switch {
	case in.Username == "":
		return apperror.ValidationFailed("username", "username is required")
	case in.Email == "":
		return apperror.ValidationFailed("email", "email is required")
	case in.Password == "":
		return apperror.ValidationFailed("password", "password is required")
	}

	if err := checkEmail(in.Email); err != nil {
		return err
	}
	if err := checkMarkup("username", in.Username); err != nil {
		return err
	}
	if err := checkMarkup("fullName", in.FullName); err != nil {
		return err
	}

	if err := checkLength("username", in.Username, MaxUsernameLength); err != nil {
		return err
	}
	if err := checkLength("fullName", in.FullName, MaxFullNameLength); err != nil {
		return err
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	if in.Role == "" {
		in.Role = model.RoleUser
	}
	if validate.Var(string(in.Role), "oneof=admin user") != nil {
		return apperror.ValidationFailed("role", "role must be one of: admin, user")
	}
	return nil
}

// LoginInput carries a username or an email in Identifier.
type LoginInput struct {
	Identifier string
	Password   string
}

func (in *LoginInput) Validate() error {
	in.Identifier = strings.TrimSpace(in.Identifier)
	if in.Identifier == "" || in.Password == "" {
		return apperror.ValidationFailed("", "username/email and password are required")
	}
	return nil
}

// UpdateUserInput is a partial update; nil fields are left unchanged.
type UpdateUserInput struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	FullName *string `json:"fullName"`
}

// Validate checks the supplied fields and returns the store update.
// A supplied username or email may not be blank; fullName may be cleared.
func (in UpdateUserInput) Validate() (model.UserUpdate, error) {
	var upd model.UserUpdate

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if username == "" {
			return upd, apperror.ValidationFailed("username", "username cannot be empty")
		}
		if err := checkMarkup("username", username); err != nil {
			return upd, err
		}
		if err := checkLength("username", username, MaxUsernameLength); err != nil {
			return upd, err
		}
		upd.Username = &username
	}

	if in.Email != nil {
		email := normaliseEmail(*in.Email)
		if email == "" {
			return upd, apperror.ValidationFailed("email", "email cannot be empty")
		}
		if err := checkEmail(email); err != nil {
			return upd, err
		}
		upd.Email = &email
	}

	if in.FullName != nil {
		fullName := strings.TrimSpace(*in.FullName)
		if err := checkMarkup("fullName", fullName); err != nil {
			return upd, err
		}
		if err := checkLength("fullName", fullName, MaxFullNameLength); err != nil {
			return upd, err
		}
		upd.FullName = &fullName
	}

	if upd.Empty() {
		return upd, apperror.ValidationFailed("", "at least one of username, email or fullName is required")
	}
	return upd, nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkEmail(email string) error {
	if len(email) > MaxEmailLength || validate.Var(email, "email") != nil {
		return apperror.ValidationFailed("email", "Invalid email format")
	}
	return nil
}

func checkMarkup(field, value string) error {
	if validate.Var(value, "nomarkup") != nil {
		return apperror.ValidationFailed(field, field+" must not contain HTML or script content")
	}
	return nil
}

func checkLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return apperror.ValidationFailed(field, field+" is too long")
	}
	return nil
}
