package objectstorage

import "github.com/replit/object-storage-go/backend"

// Object is an object stored in a bucket.
type Object struct {
	// Name is the full path of the object within the bucket.
	Name string
}

// ListOptions filters List. Zero values disable the corresponding filter.
type ListOptions struct {
	// Prefix restricts results to names beginning with Prefix.
	Prefix string
	// MatchGlob restricts results to names matching the glob. "*" matches
	// within one path segment, "**" across segments.
	MatchGlob string
	// StartOffset is an inclusive lower bound on names.
	StartOffset string
	// EndOffset is an exclusive upper bound on names.
	EndOffset string
	// MaxResults caps the number of results. 0 means no limit.
	MaxResults int
}

func (o *ListOptions) query() *backend.Query {
	if o == nil {
		return nil
	}
	return &backend.Query{
		Prefix:      o.Prefix,
		MatchGlob:   o.MatchGlob,
		StartOffset: o.StartOffset,
		EndOffset:   o.EndOffset,
		MaxResults:  o.MaxResults,
	}
}
