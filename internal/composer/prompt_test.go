package composer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/alloyist/internal/expertise"
	"github.com/kalambet/alloyist/internal/knowledge"
	"github.com/kalambet/alloyist/internal/storage"
)

func indexExcerpt(title, body string) knowledge.Excerpt {
	return knowledge.Excerpt{Title: title, Body: body, Source: title, Origin: knowledge.OriginIndex}
}

func webExcerpt(title, link, snippet string) knowledge.Excerpt {
	return knowledge.Excerpt{Title: title, Body: snippet, Source: link, Origin: knowledge.OriginWeb}
}

func scrapedExcerpt(title, content string) knowledge.Excerpt {
	return knowledge.Excerpt{Title: title, Body: content, Source: "https://example.com/" + title, Origin: knowledge.OriginScraped}
}

func TestCompose_ExactLayout(t *testing.T) {
	c := New(0, 0)
	got := c.Compose(Input{
		Level:   expertise.Intermediate,
		Message: "304 和 316 差在哪?",
		History: []storage.Turn{
			{Role: storage.RoleUser, Content: "你好"},
			{Role: storage.RoleAssistant, Content: "您好，請問需要什麼協助？"},
		},
		Excerpts: []knowledge.Excerpt{indexExcerpt("316 成分", "Mo 2-3%")},
	})

	want := Persona(expertise.Intermediate) + "\n\n" +
		"以下是內部知識庫的相關專業知識參考:\n\n" +
		"內部參考 1: 316 成分\nMo 2-3%\n\n" +
		"\n\n" +
		"Human: 你好\n\n" +
		"Assistant: 您好，請問需要什麼協助？\n\n" +
		"\n" +
		"Human: 304 和 316 差在哪?\n\nAssistant:"
	if got != want {
		t.Errorf("Compose =\n%q\nwant\n%q", got, want)
	}
}

func TestCompose_MinimalInput(t *testing.T) {
	got := New(0, 0).Compose(Input{Message: ""})
	want := Persona(expertise.Beginner) + "\n\nHuman: \n\nAssistant:"
	if got != want {
		t.Errorf("Compose =\n%q\nwant\n%q", got, want)
	}
}

func TestCompose_ByteIdenticalAcrossCalls(t *testing.T) {
	c := New(0, 0)
	in := Input{
		Level:   expertise.Expert,
		Message: "ASTM A240 316L 與 EN 1.4404 對應?",
		Excerpts: []knowledge.Excerpt{
			indexExcerpt("a", "body a"),
			webExcerpt("w", "https://astm.org", "snippet"),
			scrapedExcerpt("s", "page"),
		},
		Document: &knowledge.DocumentAnalysis{
			MIMEType:   "application/pdf",
			Text:       "Cr 16-18",
			Entities:   []knowledge.Entity{{Type: "B", Text: "x"}, {Type: "A", Text: "y"}, {Type: "C", Text: "z"}},
			StorageKey: "uploads/u/s/cert.pdf",
		},
	}
	first := c.Compose(in)
	for i := 0; i < 20; i++ {
		if got := c.Compose(in); got != first {
			t.Fatalf("call %d differs from first call", i)
		}
	}
}

func TestCompose_WebSectionsArePureInsertions(t *testing.T) {
	c := New(0, 0)
	base := Input{
		Level:    expertise.Beginner,
		Message:  "JIS SUS304 的對應鋼種",
		History:  []storage.Turn{{Role: storage.RoleUser, Content: "hi"}, {Role: storage.RoleAssistant, Content: "hello"}},
		Excerpts: []knowledge.Excerpt{indexExcerpt("SUS304", "18Cr-8Ni")},
		Document: &knowledge.DocumentAnalysis{MIMEType: "text/plain", Text: "order 42"},
	}
	withoutWeb := c.Compose(base)

	web := []knowledge.Excerpt{
		webExcerpt("ASTM A240", "https://astm.org/a240", "stainless plate"),
		scrapedExcerpt("A240", strings.Repeat("x", 2000)),
	}
	withWeb := base
	withWeb.Excerpts = append(append([]knowledge.Excerpt{}, base.Excerpts...), web...)
	got := c.Compose(withWeb)

	webSection := webBlock(web[:1]) + "\n\n"
	scrapeSection := scrapeBlock(web[1:]) + "\n\n"
	if !strings.Contains(got, webSection) || !strings.Contains(got, scrapeSection) {
		t.Fatal("web sections missing from composed prompt")
	}
	stripped := strings.Replace(got, webSection, "", 1)
	stripped = strings.Replace(stripped, scrapeSection, "", 1)
	if stripped != withoutWeb {
		t.Errorf("removing web sections does not yield the plain prompt\n got: %q\nwant: %q", stripped, withoutWeb)
	}
}

func TestCompose_SectionOrder(t *testing.T) {
	got := New(0, 0).Compose(Input{
		Message:  "msg",
		History:  []storage.Turn{{Role: storage.RoleUser, Content: "earlier"}},
		Excerpts: []knowledge.Excerpt{scrapedExcerpt("s", "page"), webExcerpt("w", "l", "snip"), indexExcerpt("i", "idx")},
		Document: &knowledge.DocumentAnalysis{MIMEType: "text/csv"},
	})
	markers := []string{"**重要指示**", knowledgeHeader, webHeader, scrapeHeader, documentHeader, "Human: earlier", "Human: msg"}
	last := -1
	for _, m := range markers {
		pos := strings.Index(got, m)
		if pos < 0 {
			t.Fatalf("marker %q missing", m)
		}
		if pos <= last {
			t.Errorf("marker %q out of order", m)
		}
		last = pos
	}
	if !strings.HasSuffix(got, "Human: msg\n\nAssistant:") {
		t.Errorf("prompt does not end with the open assistant turn")
	}
}

func TestDocumentBlock_TruncationMarker(t *testing.T) {
	for _, n := range []int{0, 1, 2999, 3000, 3001, 6000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			text := strings.Repeat("鋼", n)
			block := DocumentBlock(&knowledge.DocumentAnalysis{MIMEType: "application/pdf", Text: text})
			shown := ""
			if n > 0 {
				start := strings.Index(block, "提取的文本內容:\n") + len("提取的文本內容:\n")
				end := strings.Index(block[start:], "\n\n")
				shown = block[start : start+end]
			}
			marked := strings.HasSuffix(shown, TruncationMarker)
			if n > DocumentTextBudget && !marked {
				t.Errorf("text of %d runes shown without truncation marker", n)
			}
			if n <= DocumentTextBudget && marked {
				t.Errorf("text of %d runes shown with truncation marker", n)
			}
			if n > DocumentTextBudget {
				if kept := runeLen(strings.TrimSuffix(shown, TruncationMarker)); kept != DocumentTextBudget {
					t.Errorf("kept %d runes, want %d", kept, DocumentTextBudget)
				}
			}
		})
	}
}

func TestDocumentBlock_TwoTablesTwelvePhrases(t *testing.T) {
	var phrases []string
	for i := 1; i <= 12; i++ {
		phrases = append(phrases, fmt.Sprintf("片語%d", i))
	}
	block := DocumentBlock(&knowledge.DocumentAnalysis{
		MIMEType:   "image/png",
		Text:       "Grade | Cr",
		Tables:     []knowledge.Table{{{"Grade", "Cr"}}, {{"Ni"}}},
		KeyPhrases: phrases,
		StorageKey: "uploads/anonymous/s1/20250101000000_datasheet.png",
	})

	if !strings.Contains(block, "檔案中識別出 2 個表格。") {
		t.Errorf("block missing table count:\n%s", block)
	}
	want := "檔案關鍵片語: " + strings.Join(phrases[:10], ", ") + " (還有 2 項)\n"
	if !strings.Contains(block, want) {
		t.Errorf("block missing key phrase line %q:\n%s", want, block)
	}
	if strings.Contains(block, "片語11") {
		t.Error("phrase beyond the first ten was rendered")
	}
	if !strings.HasSuffix(block, "文件已保存為: uploads/anonymous/s1/20250101000000_datasheet.png\n") {
		t.Errorf("block does not end with storage key:\n%s", block)
	}
}

func TestDocumentBlock_Nil(t *testing.T) {
	if got := DocumentBlock(nil); got != "" {
		t.Errorf("DocumentBlock(nil) = %q", got)
	}
}

func TestScrapeBlock_TruncatesOnlyWhenExceeded(t *testing.T) {
	short := scrapeBlock([]knowledge.Excerpt{scrapedExcerpt("a", strings.Repeat("x", ScrapeItemBudget))})
	if strings.Contains(short, TruncationMarker) {
		t.Error("content at the budget was marked as truncated")
	}
	long := scrapeBlock([]knowledge.Excerpt{scrapedExcerpt("a", strings.Repeat("x", ScrapeItemBudget+1))})
	if !strings.Contains(long, strings.Repeat("x", ScrapeItemBudget)+TruncationMarker+"\n\n") {
		t.Error("content over the budget not truncated with marker")
	}
}

func TestKnowledgeBlock_OmitsOverBudget(t *testing.T) {
	c := New(100, 0)
	block := c.knowledgeBlock([]knowledge.Excerpt{
		indexExcerpt("a", strings.Repeat("a", 40)),
		indexExcerpt("b", strings.Repeat("b", 40)),
		indexExcerpt("c", strings.Repeat("c", 40)),
	})
	if !strings.Contains(block, "內部參考 1: a") {
		t.Error("first excerpt missing")
	}
	if strings.Contains(block, "內部參考 3") {
		t.Error("excerpt over budget was rendered")
	}
	if !strings.Contains(block, "(另有 2 則參考因長度限制已省略)") && !strings.Contains(block, "(另有 1 則參考因長度限制已省略)") {
		t.Errorf("omission marker missing:\n%s", block)
	}
}

func TestKnowledgeBlock_TruncatesOversizedFirstExcerpt(t *testing.T) {
	c := New(50, 0)
	block := c.knowledgeBlock([]knowledge.Excerpt{indexExcerpt("big", strings.Repeat("z", 500))})
	if !strings.Contains(block, TruncationMarker) {
		t.Errorf("oversized first excerpt not truncated:\n%s", block)
	}
	if strings.Contains(block, "另有") {
		t.Error("omission marker written with nothing omitted")
	}
}

func TestHistoryBlock_DropsOldestOverBudget(t *testing.T) {
	c := New(0, 30)
	block := c.historyBlock([]storage.Turn{
		{Role: storage.RoleUser, Content: "oldest question here"},
		{Role: storage.RoleAssistant, Content: "old answer"},
		{Role: storage.RoleUser, Content: "new"},
	})
	if strings.Contains(block, "oldest question") {
		t.Error("oldest turn kept despite budget")
	}
	if !strings.HasPrefix(block, "(較早的 ") {
		t.Errorf("omission marker missing:\n%s", block)
	}
	if !strings.HasSuffix(block, "Human: new\n\n") {
		t.Errorf("latest turn missing:\n%s", block)
	}
}

func TestHistoryBlock_TruncatesOversizedLatestTurn(t *testing.T) {
	c := New(0, 40)
	long := strings.Repeat("鉬", 200)
	block := c.historyBlock([]storage.Turn{
		{Role: storage.RoleUser, Content: "316L 的鉬含量？"},
		{Role: storage.RoleAssistant, Content: long},
	})
	if !strings.HasPrefix(block, "(較早的 1 則對話因長度限制已省略)\n\n") {
		t.Errorf("older turn not counted as omitted:\n%s", block)
	}
	want := "Assistant: " + strings.Repeat("鉬", 40-len("Assistant: ")-2) + TruncationMarker + "\n\n"
	if !strings.HasSuffix(block, want) {
		t.Errorf("latest turn not truncated to the budget:\n%s", block)
	}
	if strings.Contains(block, long) {
		t.Error("oversized turn kept whole")
	}
}

func TestHistoryBlock_SingleOversizedTurn(t *testing.T) {
	c := New(0, 20)
	block := c.historyBlock([]storage.Turn{
		{Role: storage.RoleUser, Content: strings.Repeat("a", 100)},
	})
	if strings.HasPrefix(block, "(較早的") {
		t.Errorf("nothing was omitted but marker present:\n%s", block)
	}
	if !strings.HasPrefix(block, "Human: aaaa") || !strings.Contains(block, TruncationMarker) {
		t.Errorf("block = %q", block)
	}
}

func TestPersona_CarriesLevel(t *testing.T) {
	p := Persona(expertise.Expert)
	if !strings.Contains(p, "**使用者專業程度**: expert (初學者/中級/專家)") {
		t.Errorf("persona missing level line:\n%s", p)
	}
	if strings.Contains(p, "網絡搜索") {
		t.Error("persona must not carry web-search instructions")
	}
}
