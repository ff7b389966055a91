package llm

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	// Error is set when the stream failed. No chunks follow an error chunk.
	Error error

	// Role is set on the first chunk of a reply.
	Role string

	// Content is a text delta.
	Content string

	// Finished marks the last chunk of a reply.
	Finished bool
}

// IsError returns true if the chunk carries a stream failure.
func (c *StreamChunk) IsError() bool {
	return c != nil && c.Error != nil
}

// IsLast returns true if the chunk closes the reply.
func (c *StreamChunk) IsLast() bool {
	return c != nil && c.Finished
}
