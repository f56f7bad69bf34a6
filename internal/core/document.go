package core

// ContentType is the closed document content taxonomy.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentMarkdown ContentType = "markdown"
	ContentJSON     ContentType = "json"
)

func (c ContentType) IsValid() bool {
	switch c {
	case ContentText, ContentMarkdown, ContentJSON:
		return true
	}
	return false
}

// DocStatus is the closed document lifecycle taxonomy.
type DocStatus string

const (
	DocActive   DocStatus = "active"
	DocArchived DocStatus = "archived"
)

// MaxDocumentBytes is the maximum UTF-8 byte length of Document.Content.
const MaxDocumentBytes = 10 * 1024 * 1024

// Document is versioned textual content. Updating content materializes a
// new version whose PreviousVersionID points at the superseded version;
// the visible record keeps the same logical ID.
type Document struct {
	Element

	ContentType       ContentType
	Content           string
	Version           int
	PreviousVersionID *DocumentID
	Category          string
	Status            DocStatus
	Immutable         bool
}

// NewVersion returns the next version of the document with the given
// content, chaining PreviousVersionID to the current version. It does not
// mutate the receiver; callers persist the result as the new current tuple
// and archive the prior one in version storage.
func (d *Document) NewVersion(content string) (*Document, error) {
	if d.Immutable {
		return nil, NewError(ErrImmutable, "document %s is immutable", d.ID)
	}
	prev := d.ID
	next := *d
	next.Content = content
	next.Version = d.Version + 1
	// PreviousVersionID chains to the id of the version being superseded;
	// since the logical id is retained in-place, the chain is represented
	// by the version storage layer keying on (id, version).
	prevID := DocumentID(prev)
	next.PreviousVersionID = &prevID
	return &next, nil
}
