package knowledge

import (
	"fmt"
	"strings"
)

// MaxKeyPhrases and MaxEntitiesPerType bound the document summary.
const (
	MaxKeyPhrases      = 10
	MaxEntitiesPerType = 5
)

// Table is a detected table, one slice of cells per row.
type Table [][]string

// Entity is a named entity detected in document text.
type Entity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DocumentAnalysis is the result of analyzing one uploaded file.
type DocumentAnalysis struct {
	Name           string   `json:"name"`
	MIMEType       string   `json:"mime_type"`
	StorageKey     string   `json:"storage_key"`
	Text           string   `json:"text"`
	Tables         []Table  `json:"tables,omitempty"`
	Entities       []Entity `json:"entities,omitempty"`
	KeyPhrases     []string `json:"key_phrases,omitempty"`
	StructuredData bool     `json:"structured_data"`
	DetectedLines  []string `json:"detected_lines,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// RenderTables renders tables as numbered blocks of pipe-delimited rows,
// ready to be appended to extracted text. It returns "" for no tables.
func RenderTables(tables []Table) string {
	if len(tables) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n表格數據:\n")
	for i, t := range tables {
		fmt.Fprintf(&b, "\n表格 %d:\n", i+1)
		for _, row := range t {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// EntityGroup holds the distinct texts seen for one entity type.
type EntityGroup struct {
	Type  string
	Texts []string
}

// GroupEntities groups entities by type in first-seen order, dropping
// repeated texts within a type.
func GroupEntities(entities []Entity) []EntityGroup {
	var groups []EntityGroup
	index := make(map[string]int)
	seen := make(map[string]bool)
	for _, e := range entities {
		i, ok := index[e.Type]
		if !ok {
			i = len(groups)
			index[e.Type] = i
			groups = append(groups, EntityGroup{Type: e.Type})
		}
		key := e.Type + "\x00" + e.Text
		if seen[key] {
			continue
		}
		seen[key] = true
		groups[i].Texts = append(groups[i].Texts, e.Text)
	}
	return groups
}

// Facts describes the structured elements of a document as sentences: the
// structured-data note, the table count, the leading key phrases and the
// entities grouped by type. Lists beyond their limit end with an overflow
// count.
func Facts(a *DocumentAnalysis) string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	if a.StructuredData {
		b.WriteString("檔案包含結構化數據。\n")
	}
	if len(a.Tables) > 0 {
		fmt.Fprintf(&b, "檔案中識別出 %d 個表格。\n", len(a.Tables))
	}
	if phrases := nonEmpty(a.KeyPhrases); len(phrases) > 0 {
		b.WriteString("檔案關鍵片語: ")
		b.WriteString(truncateList(phrases, MaxKeyPhrases))
		b.WriteString("\n")
	}
	if groups := GroupEntities(a.Entities); len(groups) > 0 {
		b.WriteString("檔案中識別的實體:\n")
		for _, g := range groups {
			fmt.Fprintf(&b, "- %s: %s\n", g.Type, truncateList(g.Texts, MaxEntitiesPerType))
		}
	}
	return b.String()
}

func truncateList(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:limit], ", ") + fmt.Sprintf(" (還有 %d 項)", len(items)-limit)
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
