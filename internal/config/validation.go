package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate = validator.New()

	labelsRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
)

func init() {
	if err := validate.RegisterValidation("subdomain", validateSubdomain); err != nil {
		panic(err)
	}

	// report TOML key names instead of Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateSubdomain accepts the apex marker "@" or one or more lowercase DNS labels.
func validateSubdomain(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "@" || labelsRegexp.MatchString(value)
}

// FieldError is a single invalid setting.
type FieldError struct {
	Path    string // dotted TOML path, e.g. "sync.source[1].url"
	Message string
}

func (e FieldError) Error() string {
	return e.Path + ": " + e.Message
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	errs := make([]error, 0, len(verrs))
	for _, e := range verrs {
		path := e.Namespace()
		// drop the root struct name
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		errs = append(errs, FieldError{Path: path, Message: validationMessage(e)})
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s item(s)", e.Param())
		}
		return fmt.Sprintf("must be >= %s", e.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be > %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "subdomain":
		return `must be "@" or a lowercase DNS name`
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}
