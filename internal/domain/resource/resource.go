// Package resource provides the audio resource descriptors a player can be pointed at.
package resource

import "net/url"

// Descriptor identifies an audio source: either a remote stream or a local file handle.
// Descriptors are immutable once created.
type Descriptor interface {
	// String returns a human-readable form used in logs and status output.
	String() string

	isDescriptor()
}

// Stream is a remote (streaming) resource identified by its URI.
type Stream struct {
	URI      string            // Remote URI (http, https, ...)
	Headers  map[string]string // Extra request headers (optional)
	Metadata map[string]string // Metadata known before loading, e.g. catalog title and artist (optional)
}

// NewStream creates a stream descriptor for the given URI.
func NewStream(uri string) Stream {
	return Stream{URI: uri}
}

func (s Stream) String() string { return s.URI }

func (Stream) isDescriptor() {}

// LocalFile is an opaque handle to a local audio file.
// Handles are compared by identity: two handles pointing at the same path are different resources.
type LocalFile struct {
	Path string // Filesystem path
}

// NewLocalFile creates a new local file handle.
func NewLocalFile(path string) *LocalFile {
	return &LocalFile{Path: path}
}

func (f *LocalFile) String() string {
	if f == nil {
		return "<nil>"
	}
	return (&url.URL{Scheme: "file", Path: f.Path}).String()
}

func (*LocalFile) isDescriptor() {}

// Defined reports whether d refers to an actual resource.
// Nil descriptors, nil file handles and streams with an empty URI are undefined.
func Defined(d Descriptor) bool {
	switch v := d.(type) {
	case nil:
		return false
	case Stream:
		return v.URI != ""
	case *Stream:
		return v != nil && v.URI != ""
	case *LocalFile:
		return v != nil
	default:
		return true
	}
}

// Equivalent reports whether a and b describe the same resource.
// It is false if either is undefined. Two streams are equivalent when their URIs are equal;
// any other pair is equivalent only when it is the identical handle.
func Equivalent(a, b Descriptor) bool {
	if !Defined(a) || !Defined(b) {
		return false
	}

	ua, aok := uriOf(a)
	ub, bok := uriOf(b)
	if aok && bok {
		return ua == ub
	}
	if aok != bok {
		return false
	}

	return a == b
}

// MetadataOf returns the metadata carried by d, or nil.
func MetadataOf(d Descriptor) map[string]string {
	switch v := d.(type) {
	case Stream:
		return v.Metadata
	case *Stream:
		if v != nil {
			return v.Metadata
		}
	}
	return nil
}

// uriOf returns the URI of stream descriptors.
func uriOf(d Descriptor) (string, bool) {
	switch v := d.(type) {
	case Stream:
		return v.URI, true
	case *Stream:
		return v.URI, true
	default:
		return "", false
	}
}
