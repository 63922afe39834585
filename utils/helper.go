package utils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var (
	uuidPattern  = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

func IsValidUUID(id string) bool {
	return uuidPattern.MatchString(id)
}

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address before lookups and inserts.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

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

// ValidateStruct runs validator tags and converts failures to field messages.
func ValidateStruct(s any) FieldErrors {
	fields := FieldErrors{}
	err := validate.Struct(s)
	if err == nil {
		return fields
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		fields.Add("body", err.Error())
		return fields
	}
	for _, ve := range validationErrors {
		fields.Add(ve.Field(), tagMessage(ve))
	}
	return fields
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "The " + fe.Field() + " field is required."
	case "email":
		return "The " + fe.Field() + " must be a valid email address."
	case "uuid", "uuid4":
		return "The " + fe.Field() + " must be a valid UUID."
	case "oneof":
		return "The selected " + fe.Field() + " is invalid."
	case "min", "gte":
		return "The " + fe.Field() + " must be at least " + fe.Param() + "."
	default:
		return "The " + fe.Field() + " is invalid."
	}
}

const upperAlphaNumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const lowerAlphaNumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomCode returns n characters drawn from [A-Z0-9].
func RandomCode(n int) string {
	return randomFrom(upperAlphaNumeric, n)
}

// RandomLowerCode returns n characters drawn from [a-z0-9].
func RandomLowerCode(n int) string {
	return randomFrom(lowerAlphaNumeric, n)
}

func randomFrom(alphabet string, n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}

// returns slice removing duplicate elements
func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

func DereferencePtr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func NewString(s string) *string {
	return &s
}
