package kivra

import (
	"errors"
	"fmt"
)

// ErrAuthenticationFailed indicates the BankID flow ended in a terminal
// failure state.
var ErrAuthenticationFailed = errors.New("BankID authentication failed")

// ErrMalformedToken indicates the identity token could not be decoded or
// lacked the actor identifier.
var ErrMalformedToken = errors.New("malformed identity token")

// RequestError represents a non-2xx response from the Kivra API. The
// pipeline decides fatality by where the failure occurred, not by its type,
// so one generic error carrying context is enough.
type RequestError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("kivra request failed: HTTP %d (%s)", e.StatusCode, e.URL)
}

// GraphQLError represents a 200 response whose body carries a non-empty
// errors array.
type GraphQLError struct {
	Operation string
	Messages  []string
}

func (e *GraphQLError) Error() string {
	return fmt.Sprintf("graphql operation %s returned errors: %v", e.Operation, e.Messages)
}
