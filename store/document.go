package store

// Document is a raw ingested document, stored in the owning tenant's
// relational namespace. The embedded chunks live in the vector store.
type Document struct {
	ID        int64
	UID       string
	Title     string
	Content   string
	CreatedTs int64
}

// FindDocument filters for ListDocuments within one tenant's namespace.
type FindDocument struct {
	UID *string
}
