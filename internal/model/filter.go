package model

import "sort"

// Filters are equality constraints on stored legal metadata, keyed by column name.
type Filters map[string]string

var filterColumns = map[string]struct{}{
	"law_name":             {},
	"book":                 {},
	"chapter":              {},
	"section":              {},
	"article":              {},
	"subject_area":         {},
	"source_document_name": {},
	"doc_id":               {},
}

// IsFilterColumn reports whether key may be used as a metadata filter.
func IsFilterColumn(key string) bool {
	_, ok := filterColumns[key]
	return ok
}

// Split separates supported filters from unknown keys. Unknown keys are returned sorted.
func (f Filters) Split() (Filters, []string) {
	if len(f) == 0 {
		return nil, nil
	}
	valid := make(Filters, len(f))
	var unknown []string
	for k, v := range f {
		if IsFilterColumn(k) {
			valid[k] = v
			continue
		}
		unknown = append(unknown, k)
	}
	sort.Strings(unknown)
	return valid, unknown
}

// Field returns the value of a filterable column.
func (c *Chunk) Field(column string) string {
	switch column {
	case "law_name":
		return c.LawName
	case "book":
		return c.Book
	case "chapter":
		return c.Chapter
	case "section":
		return c.Section
	case "article":
		return c.Article
	case "subject_area":
		return c.SubjectArea
	case "source_document_name":
		return c.SourceDocumentName
	case "doc_id":
		return c.DocumentID
	}
	return ""
}
