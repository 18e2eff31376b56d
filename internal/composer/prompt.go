package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/alloyist/internal/expertise"
	"github.com/kalambet/alloyist/internal/knowledge"
	"github.com/kalambet/alloyist/internal/storage"
)

// Character budgets, counted in runes.
const (
	DefaultKnowledgeBudget = 12000
	DefaultHistoryBudget   = 8000
	DocumentTextBudget     = 3000
	ScrapeItemBudget       = 1500
)

// TruncationMarker is appended to any text cut to fit its budget.
const TruncationMarker = "...(內容已截斷)"

const (
	knowledgeHeader = "以下是內部知識庫的相關專業知識參考:\n\n"
	webHeader       = "以下是從網絡搜索獲取的最新資料:\n\n"
	webInstruction  = "在引用這些資料時，要清楚標明信息來源。如果網絡搜索結果與內部知識庫有衝突，優先考慮最新的網絡搜索結果，特別是標準更新的情況。"
	scrapeHeader    = "以下是關鍵網頁的詳細內容:\n\n"
	documentHeader  = "用戶已上傳文件，以下是文件分析結果:\n"
)

// Input is everything one prompt is built from. Excerpts are split into
// sections by origin; excerpts of other origins are ignored.
type Input struct {
	Level    expertise.Level
	Message  string
	History  []storage.Turn
	Excerpts []knowledge.Excerpt
	Document *knowledge.DocumentAnalysis
}

// Composer assembles the single prompt text submitted to the model. Output is
// a pure function of the Input and the budgets.
type Composer struct {
	KnowledgeBudget int
	HistoryBudget   int
}

// New creates a Composer with the given knowledge and history budgets.
// Non-positive values select the defaults.
func New(knowledgeBudget, historyBudget int) *Composer {
	if knowledgeBudget <= 0 {
		knowledgeBudget = DefaultKnowledgeBudget
	}
	if historyBudget <= 0 {
		historyBudget = DefaultHistoryBudget
	}
	return &Composer{KnowledgeBudget: knowledgeBudget, HistoryBudget: historyBudget}
}

// Compose renders the prompt in fixed section order: persona, internal
// knowledge, web results, scraped pages, document analysis, history, then the
// current message with an open assistant turn. Empty sections are omitted.
func (c *Composer) Compose(in Input) string {
	var sb strings.Builder
	sb.WriteString(Persona(in.Level))
	sb.WriteString("\n\n")

	sections := []string{
		c.knowledgeBlock(knowledge.Filter(in.Excerpts, knowledge.OriginIndex)),
		webBlock(knowledge.Filter(in.Excerpts, knowledge.OriginWeb)),
		scrapeBlock(knowledge.Filter(in.Excerpts, knowledge.OriginScraped)),
		DocumentBlock(in.Document),
	}
	for _, s := range sections {
		if s == "" {
			continue
		}
		sb.WriteString(s)
		sb.WriteString("\n\n")
	}

	if h := c.historyBlock(in.History); h != "" {
		sb.WriteString(h)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Human: %s\n\nAssistant:", in.Message)
	return sb.String()
}

// knowledgeBlock lists index excerpts until the budget runs out. The first
// excerpt is truncated rather than dropped; later ones that do not fit are
// omitted with a count.
func (c *Composer) knowledgeBlock(excerpts []knowledge.Excerpt) string {
	if len(excerpts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(knowledgeHeader)
	remaining := c.KnowledgeBudget
	for i, e := range excerpts {
		entry := fmt.Sprintf("內部參考 %d: %s\n%s\n\n", i+1, e.Title, e.Body)
		n := runeLen(entry)
		if n <= remaining {
			sb.WriteString(entry)
			remaining -= n
			continue
		}
		kept := i
		if i == 0 {
			head := fmt.Sprintf("內部參考 1: %s\n", e.Title)
			sb.WriteString(head)
			sb.WriteString(truncate(e.Body, max(remaining-runeLen(head)-2, 0)))
			sb.WriteString("\n\n")
			kept = 1
		}
		if omitted := len(excerpts) - kept; omitted > 0 {
			fmt.Fprintf(&sb, "(另有 %d 則參考因長度限制已省略)\n\n", omitted)
		}
		break
	}
	return sb.String()
}

func webBlock(excerpts []knowledge.Excerpt) string {
	if len(excerpts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(webHeader)
	for i, e := range excerpts {
		fmt.Fprintf(&sb, "網絡參考 %d: %s\n來源: %s\n摘要: %s\n\n", i+1, e.Title, e.Source, e.Body)
	}
	sb.WriteString(webInstruction)
	return sb.String()
}

func scrapeBlock(excerpts []knowledge.Excerpt) string {
	if len(excerpts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(scrapeHeader)
	for i, e := range excerpts {
		fmt.Fprintf(&sb, "詳細內容 %d: %s\n%s\n\n", i+1, e.Title, truncate(e.Body, ScrapeItemBudget))
	}
	return sb.String()
}

// DocumentBlock renders the analysis of an uploaded file: type, extracted
// text capped at DocumentTextBudget, structured facts and the storage key.
// It returns "" when there is no analysis.
func DocumentBlock(a *knowledge.DocumentAnalysis) string {
	if a == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(documentHeader)
	fmt.Fprintf(&sb, "文件類型: %s\n", a.MIMEType)
	if a.Text != "" {
		sb.WriteString("提取的文本內容:\n")
		sb.WriteString(truncate(a.Text, DocumentTextBudget))
		sb.WriteString("\n\n")
	}
	if a.Error != "" {
		fmt.Fprintf(&sb, "文件分析失敗: %s\n", a.Error)
	}
	sb.WriteString(knowledge.Facts(a))
	if a.StorageKey != "" {
		fmt.Fprintf(&sb, "文件已保存為: %s\n", a.StorageKey)
	}
	return sb.String()
}

// historyBlock renders turns oldest first. When the budget is exceeded the
// oldest turns are dropped and their count noted. The newest turn is always
// kept, truncated when it alone exceeds the budget.
func (c *Composer) historyBlock(turns []storage.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	labels := make([]string, len(turns))
	entries := make([]string, len(turns))
	for i, t := range turns {
		labels[i] = "Human: "
		if t.Role == storage.RoleAssistant {
			labels[i] = "Assistant: "
		}
		entries[i] = labels[i] + t.Content + "\n\n"
	}

	start := len(entries)
	used := 0
	for start > 0 {
		n := runeLen(entries[start-1])
		if used+n > c.HistoryBudget {
			break
		}
		used += n
		start--
	}
	if start == len(entries) {
		last := len(turns) - 1
		entries[last] = labels[last] + truncate(turns[last].Content, max(c.HistoryBudget-runeLen(labels[last])-2, 0)) + "\n\n"
		start = last
	}

	var sb strings.Builder
	if start > 0 {
		fmt.Fprintf(&sb, "(較早的 %d 則對話因長度限制已省略)\n\n", start)
	}
	for _, e := range entries[start:] {
		sb.WriteString(e)
	}
	return sb.String()
}

// truncate caps s at limit runes, appending TruncationMarker only when text
// was cut.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + TruncationMarker
}

func runeLen(s string) int {
	return len([]rune(s))
}
