package store

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ResourceType names the kind of resource a failure refers to.
type ResourceType string

const (
	ResourceUnknown    ResourceType = ""
	ResourceDatabase   ResourceType = "Database"
	ResourceCollection ResourceType = "Collection"
	ResourceDocument   ResourceType = "Document"
)

// Failure is a store-reported error.
type Failure struct {
	// StatusCode is the HTTP-equivalent status (404, 409, 412, 429, ...).
	StatusCode int

	// ResourceType is set by backends that know which resource was affected.
	// When empty, Message is inspected instead.
	ResourceType ResourceType

	// Message is the store's error text.
	Message string

	// RetryAfter is the server suggested delay for throttled requests.
	RetryAfter time.Duration

	// Err is the backend error, if any.
	Err error
}

func (f *Failure) Error() string {
	status := http.StatusText(f.StatusCode)
	if status == "" {
		status = "status"
	}
	if f.Message == "" {
		return fmt.Sprintf("docstore: %s (%d)", status, f.StatusCode)
	}
	return fmt.Sprintf("docstore: %s (%d): %s", status, f.StatusCode, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Resource returns the resource type, falling back to the "ResourceType: X" marker in
// Message. Text sniffing depends on the store's message format and is only used when
// the backend did not report a structured type.
func (f *Failure) Resource() ResourceType {
	if f.ResourceType != ResourceUnknown {
		return f.ResourceType
	}
	for _, rt := range []ResourceType{ResourceCollection, ResourceDatabase, ResourceDocument} {
		if strings.Contains(f.Message, "ResourceType: "+string(rt)) {
			return rt
		}
	}
	return ResourceUnknown
}

// NotFound builds a 404 failure for the given resource.
func NotFound(rt ResourceType, format string, args ...any) *Failure {
	msg := fmt.Sprintf(format, args...)
	return &Failure{
		StatusCode:   http.StatusNotFound,
		ResourceType: rt,
		Message:      fmt.Sprintf("%s, ResourceType: %s", msg, rt),
	}
}
