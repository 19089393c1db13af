// Package llm defines the provider adapter contract shared by every backend:
// the Request handed to an adapter, the tagged Event union it emits, and the
// Registry of handles built once at startup and passed to the orchestrators.
package llm
