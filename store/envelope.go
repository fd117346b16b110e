package store

// Envelope pairs a document with its concurrency and session tokens.
type Envelope[T any] struct {
	Document T

	// ETag is the concurrency token for conditional replaces.
	ETag string

	// SessionToken is set when the store returned one.
	SessionToken string
}

func envelopeOf(resp ItemResponse) Envelope[Document] {
	return Envelope[Document]{
		Document:     resp.Document,
		ETag:         resp.ETag,
		SessionToken: resp.SessionToken,
	}
}
