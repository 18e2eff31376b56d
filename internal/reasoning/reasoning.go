// Package reasoning runs the three-stage deep answer mode: analyze the
// question, draft an answer for the requester's level, then refine it.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/alloyist/internal/expertise"
	"github.com/kalambet/alloyist/internal/generator"
	"github.com/kalambet/alloyist/internal/knowledge"
)

// Stage names used in errors and logs.
const (
	StageAnalyze = "analyze"
	StageDraft   = "draft"
	StageRefine  = "refine"
)

// Reasoner generates one reasoning stage. generator.Invoker satisfies it.
type Reasoner interface {
	Reason(ctx context.Context, prompt string) (string, error)
}

// Input is the question and the material available to reason over.
type Input struct {
	Message  string
	Level    expertise.Level
	Excerpts []knowledge.Excerpt
}

// Result holds the output of every stage. Answer is the refined text.
type Result struct {
	Analysis string
	Draft    string
	Answer   string
}

// StageError reports which stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("reasoning %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline chains the three stages, each blocking on the previous one.
type Pipeline struct {
	reasoner Reasoner
}

// New creates a Pipeline over the given Reasoner.
func New(r Reasoner) *Pipeline {
	return &Pipeline{reasoner: r}
}

// Run executes analyze, draft and refine in order. The first failing stage
// stops the pipeline; the returned Result carries the stages that completed.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	var res Result
	level := in.Level
	if level == "" {
		level = expertise.Beginner
	}

	var err error
	res.Analysis, err = p.stage(ctx, StageAnalyze, AnalyzePrompt(in.Message, level, in.Excerpts))
	if err != nil {
		return res, err
	}
	res.Draft, err = p.stage(ctx, StageDraft, DraftPrompt(res.Analysis, level))
	if err != nil {
		return res, err
	}
	res.Answer, err = p.stage(ctx, StageRefine, RefinePrompt(res.Draft, level))
	if err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, name, prompt string) (string, error) {
	out, err := p.reasoner.Reason(ctx, prompt)
	if err != nil {
		slog.Warn("reasoning stage failed", "stage", name, "error", err)
		return "", &StageError{Stage: name, Err: err}
	}
	slog.Debug("reasoning stage complete", "stage", name, "chars", len([]rune(out)))
	return out, nil
}

// AnalyzePrompt builds the first-stage prompt. Index and document excerpts
// form the available knowledge; web and scraped excerpts are listed
// separately when present.
func AnalyzePrompt(message string, level expertise.Level, excerpts []knowledge.Excerpt) string {
	var local, web []knowledge.Excerpt
	for _, e := range excerpts {
		switch e.Origin {
		case knowledge.OriginWeb, knowledge.OriginScraped:
			web = append(web, e)
		default:
			local = append(local, e)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "為了生成高質量回答，我需要先進行一些內部推理。\n問題：%s\n\n用戶專業水平：%s\n\n可用的知識：\n%s\n\n", message, level, renderExcerpts(local))
	if len(web) > 0 {
		fmt.Fprintf(&sb, "\n網絡搜索結果：\n%s\n\n", renderExcerpts(web))
	}
	sb.WriteString(analyzeSteps)
	return sb.String()
}

const analyzeSteps = `
#第一步：問題分析
- 用戶真正想知道的核心問題是什麼？
- 需要哪些關鍵信息來回答這個問題？
- 需要進行哪些計算或比較？

#第二步：資料評估
- 我有足夠的信息回答這個問題嗎？
- 哪些信息是最可靠的？
- 有沒有矛盾的信息需要解決？

#第三步：專業知識應用
- 應該應用哪些不銹鋼領域的專業知識？
- 需要參考哪些標準規範？
- 如何確保技術準確性？

#第四步：回答構思
- 如何根據用戶專業水平調整回答的深度和用詞？
- 如何組織信息，使回答清晰有條理？
- 需要使用表格、比較或列表嗎？

現在，基於以上思考，展開我的分析：`

// DraftPrompt builds the second-stage prompt from the analysis.
func DraftPrompt(analysis string, level expertise.Level) string {
	return fmt.Sprintf(`基於我的初步分析：

%s

我現在需要組織一個結構化的回答。考慮到用戶的專業水平是「%s」，我應該：

1. 如果是初學者：提供基本解釋並解釋術語，避免過於技術性的細節
2. 如果是中級：提供更詳細的解釋，包括一些技術細節，但仍需附帶背景信息
3. 如果是專家：直接提供技術性資訊，可使用專業術語，重點關注數據和細節

現在，讓我生成最終回答的草稿：`, analysis, level)
}

// RefinePrompt builds the final review prompt from the draft, with
// generator.Reminder ahead of the answer cue.
func RefinePrompt(draft string, level expertise.Level) string {
	return fmt.Sprintf(`這是我的回答草稿：

%s

讓我審查並完善這個回答：
1. 確保技術準確性
2. 確保信息組織清晰
3. 適當調整語言以匹配用戶專業水平（%s）
4. 檢查是否有任何遺漏的重要信息
5. 確保沒有請求用戶提供更多信息

%s

最終回答：`, draft, level, generator.Reminder)
}

func renderExcerpts(excerpts []knowledge.Excerpt) string {
	var sb strings.Builder
	for i, e := range excerpts {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, e.Title)
		if e.Source != "" && e.Origin != knowledge.OriginIndex {
			fmt.Fprintf(&sb, "來源: %s\n", e.Source)
		}
		sb.WriteString(e.Body)
		sb.WriteString("\n")
	}
	return sb.String()
}
