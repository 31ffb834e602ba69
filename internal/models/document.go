package models

// SourceKey is the only metadata key that survives normalization.
const SourceKey = "source"

// Document is a unit of loaded text. Loaders attach full metadata; the
// normalizer reduces it to SourceKey.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Source returns the document's source path or URL, or "" when absent.
func (d Document) Source() string {
	s, _ := d.Metadata[SourceKey].(string)
	return s
}

// Chunk is a bounded slice of a Document's content carrying its metadata.
type Chunk struct {
	Content  string
	Metadata map[string]any
}

func (c Chunk) Source() string {
	s, _ := c.Metadata[SourceKey].(string)
	return s
}

// Entry is one stored row of the vector index.
type Entry struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Result is a search hit. Higher Score means more similar.
type Result struct {
	ID       string
	Content  string
	Metadata map[string]any
	Score    float32
}

func (r Result) Source() string {
	s, _ := r.Metadata[SourceKey].(string)
	return s
}
