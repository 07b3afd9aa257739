// Package apperror maps validation failures to client-facing messages and
// classifies store errors for the retry loop.
package apperror

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"google.golang.org/api/googleapi"
)

var errRequired = errors.New("is required")

var customErrors = map[string]error{
	"CallEvent.Type.required":   errRequired,
	"CallEvent.CallID.required": errRequired,
}

// CustomValidationError converts validator errors into a standardized format.
func CustomValidationError(err error) []map[string]string {
	errList := make([]map[string]string, 0)

	var validationErr validator.ValidationErrors
	if errors.As(err, &validationErr) {
		for _, e := range validationErr {
			field := e.StructNamespace()
			key := field + "." + e.Tag()

			errMsg := fmt.Sprintf("%s is invalid", field)
			if v, ok := customErrors[key]; ok {
				errMsg = v.Error()
			}

			errList = append(errList, map[string]string{e.Field(): errMsg})
		}
	}
	return errList
}

// RetryableStore reports whether a store error is worth another attempt.
// Rate limits and server-side failures are transient; auth, permission and
// schema errors will not heal on retry, nor will a dead context.
func RetryableStore(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 408, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	// Anything without an API status code is a transport-level failure.
	return true
}
