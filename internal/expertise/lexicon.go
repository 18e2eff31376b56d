package expertise

import "regexp"

// Domain lexicons. Entries are matched as case-insensitive substrings and each
// entry counts at most once per message. A term listed twice counts twice.
var (
	metallurgyTerms = []string{
		"奧氏體", "肥粒體", "馬氏體", "沃斯田鐵", "δ-鐵素體", "肥粒體", "雙相", "析出硬化",
		"時效硬化", "固溶處理", "再結晶", "晶粒", "晶界", "晶間腐蝕", "碳化物", "偏析",
		"塑性變形", "冷作硬化", "熱處理", "退火", "淬火", "回火", "固溶", "沉澱",
		"滲碳", "氮化", "σ相", "χ相", "金相", "位錯", "孿晶", "位錯", "晶格缺陷",
	}

	corrosionTerms = []string{
		"點蝕", "縫隙腐蝕", "晶間腐蝕", "應力腐蝕開裂", "SCC", "氫脆", "電化學",
		"陽極", "陰極", "鈍化", "活性", "氧化還原", "電位", "極化", "電流密度",
		"腐蝕電位", "電化學阻抗", "循環伏安", "PREN值", "CCT", "CPT", "IGC", "鹽霧測試",
	}

	mechanicalTerms = []string{
		"拉伸強度", "降伏強度", "屈服強度", "延伸率", "斷面收縮率", "彈性模量",
		"硬度", "洛氏硬度", "布氏硬度", "維氏硬度", "衝擊韌性", "疲勞強度", "蠕變",
		"斷裂韌性", "應力", "應變", "塑性", "脆性", "各向異性", "彈塑性", "應力集中",
	}

	standardsTerms = []string{
		"ASTM", "EN", "ISO", "JIS", "DIN", "UNS", "AISI", "SAE", "GB", "BS",
		"符合性", "認證", "測試方法", "規格", "等級", "標準偏差", "公差",
	}

	advancedTerms = []string{
		"PRE值計算", "Schaeffler圖", "DeLong圖", "WRC-1992", "孫能曲線", "Hall-Petch關係",
		"Thermo-Calc", "相圖計算", "電子背散射", "穿透式電子顯微鏡", "電化學阻抗譜",
		"循環伏安法", "CALPHAD", "相場模型", "位錯動力學", "Gleeble", "等溫轉變",
		"連續冷卻轉變", "Z相", "Laves相", "組織定量分析", "晶粒尺寸分佈", "顯微硬度分析",
	}

	// simpleTerms is the short list used by ClassifySimple.
	simpleTerms = []string{"奧氏體", "肥粒體", "馬氏體", "固溶處理", "時效硬化", "PREN", "晶間腐蝕"}
)

var (
	comparisonPattern  = regexp.MustCompile(`(比較|差異|區別|對比|相比|優缺點|利弊|不同點)`)
	calculationPattern = regexp.MustCompile(`(計算|公式|估算|轉換|換算|推導|求解)`)
	mechanismPattern   = regexp.MustCompile(`(機制|原理|機理|形成|過程|發展|演變|影響因素|條件)`)

	// StandardCodePattern matches standards references such as "ASTM A276" or "EN 10088-2".
	StandardCodePattern = regexp.MustCompile(`[A-Z]{2,5}\s*[A-Z]?[0-9]{1,5}(-[0-9]+)?`)

	compositionPattern = regexp.MustCompile(`(C|Si|Mn|P|S|Cr|Ni|Mo|Ti|Nb|N|Cu|W|V|Co|Al)[<>=≤≥]?(\d+(\.\d+)?)(wt|%|質量分數)?`)

	sentenceSplit = regexp.MustCompile(`[。！？.!?]`)
)

// Lexicon weights.
const (
	weightMetallurgy = 1.0
	weightCorrosion  = 1.0
	weightMechanical = 1.0
	weightStandards  = 0.5
	weightAdvanced   = 3.0
)

// Structural bonuses.
const (
	bonusComparison      = 1.5
	bonusCalculation     = 2.0
	bonusMechanism       = 2.5
	perStandardCode      = 1.5
	perCompositionExpr   = 2.0
	bonusLongSentences   = 1.0
	bonusManyQuestions   = 1.5
	longSentenceRunes    = 30
	manyQuestionsMinimum = 3
)

// History blending. Only the last historyWindow user turns contribute.
const (
	historyWindow          = 5
	historyCoreWeight      = 0.5
	historyStandardsWeight = 0.25
	historyAdvancedWeight  = 1.5
	historyScale           = 0.3
)

// Tier thresholds.
const (
	expertScore             = 12.0
	expertScoreWithDomains  = 8.0
	expertDomains           = 3
	expertAdvancedHits      = 2
	intermediateScore       = 5.0
	intermediateWithDomains = 3.0
	intermediateDomains     = 2

	simpleExpertTerms = 3
	simpleExpertCodes = 2
)
