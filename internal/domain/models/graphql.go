package models

import (
	"encoding/json"
	"strings"

	"github.com/turtacn/portal-gateway/pkg/constants"
)

// GraphQLRequest is the POST body of a GraphQL operation.
type GraphQLRequest struct {
	Query         string                 `json:"query" binding:"required"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// GraphQLErrorLocation points into the query document.
type GraphQLErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is a single entry of a response's errors array.
type GraphQLError struct {
	Message    string                 `json:"message"`
	Locations  []GraphQLErrorLocation `json:"locations,omitempty"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Code returns extensions.code, or "" when absent.
func (e GraphQLError) Code() string {
	if e.Extensions == nil {
		return ""
	}
	code, _ := e.Extensions["code"].(string)
	return code
}

// IsUnauthenticated reports an authentication rejection, by code or by message.
func (e GraphQLError) IsUnauthenticated() bool {
	if strings.EqualFold(e.Code(), constants.GraphQLCodeUnauthenticated) {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), constants.GraphQLUnauthenticatedMessage)
}

// GraphQLResponse is the envelope returned by the GraphQL endpoint.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// Unauthenticated reports whether any error is an authentication rejection.
func (r *GraphQLResponse) Unauthenticated() bool {
	for _, e := range r.Errors {
		if e.IsUnauthenticated() {
			return true
		}
	}
	return false
}
