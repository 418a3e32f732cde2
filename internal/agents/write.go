package agents

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
	"ResearchPipeline/internal/stage"
)

const writeSystem = `You are a senior research report writer. Write concise, well structured professional prose in Chinese without markdown headings.`

// Write assembles the final report. The executive summary is written by the
// model; every other section is rendered from the upstream payloads.
type Write struct {
	model ports.ChatModel
	now   func() time.Time
}

// NewWrite wires the chat model and the clock used for the research date.
func NewWrite(model ports.ChatModel, now func() time.Time) *Write {
	if now == nil {
		now = time.Now
	}
	return &Write{model: model, now: now}
}

func (w *Write) Name() domain.StageName { return domain.StageWrite }

func (w *Write) Execute(ctx context.Context, in domain.WriteInput) (domain.Report, error) {
	return w.run(ctx, in, nil)
}

func (w *Write) ExecuteStreaming(ctx context.Context, in domain.WriteInput, onChunk stage.ChunkFunc) (domain.Report, error) {
	return w.run(ctx, in, onChunk)
}

// Default renders the report with a templated executive summary.
func (w *Write) Default(in domain.WriteInput) domain.Report {
	return buildReport(in, fallbackSummary(in), w.now())
}

func (w *Write) run(ctx context.Context, in domain.WriteInput, onChunk stage.ChunkFunc) (domain.Report, error) {
	summary, err := ask(ctx, w.model, ports.ChatRequest{
		System:      writeSystem,
		Prompt:      summaryPrompt(in),
		Temperature: 0.5,
	}, onChunk)
	if err != nil {
		return domain.Report{}, err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return domain.Report{}, fmt.Errorf("empty executive summary")
	}
	return buildReport(in, summary, w.now()), nil
}

func summaryPrompt(in domain.WriteInput) string {
	return fmt.Sprintf(`Write a 200-300 character executive summary for the research report on %s.

- Business: %s
- Financial health: %d/10. %s
- Market position: %d/10, outlook %s
- Recommendation: %s (confidence %s). %s
- Overall score: %d/10`,
		companyName(in),
		orUnknown(in.Structured.Data.MainBusiness),
		in.Finance.OverallScore, in.Finance.Summary,
		in.Market.Position.Score, in.Market.Outlook.Rating,
		in.Insights.Recommendation.Rating, in.Insights.Recommendation.Confidence, in.Insights.Recommendation.Reasoning,
		in.Insights.OverallScore,
	)
}

func fallbackSummary(in domain.WriteInput) string {
	return fmt.Sprintf("%s综合评分 %d/10，财务健康度 %d/10，市场地位 %d/10，行业前景%s。投资建议：%s（置信度%s）。%s",
		companyName(in),
		in.Insights.OverallScore,
		in.Finance.OverallScore,
		in.Market.Position.Score,
		in.Market.Outlook.Rating,
		in.Insights.Recommendation.Rating,
		in.Insights.Recommendation.Confidence,
		in.Insights.Recommendation.Reasoning,
	)
}

func companyName(in domain.WriteInput) string {
	if name := strings.TrimSpace(in.Structured.Data.CompanyName); name != "" {
		return name
	}
	return in.Company
}

func buildReport(in domain.WriteInput, summary string, now time.Time) domain.Report {
	data := in.Structured.Data
	return domain.Report{
		Metadata: domain.ReportMetadata{
			Company:        in.Company,
			CompanyName:    companyName(in),
			StockCode:      data.StockCode,
			Industry:       data.Industry,
			Depth:          in.Depth,
			ResearchDate:   now.UTC(),
			OverallScore:   in.Insights.OverallScore,
			Recommendation: in.Insights.Recommendation.Rating,
		},
		Sections: []domain.Section{
			{
				ID:        domain.SectionExecutiveSummary,
				Title:     "执行摘要",
				Content:   summary,
				Score:     in.Insights.OverallScore,
				KeyPoints: keyPoints(in.Insights),
			},
			companySection(in),
			financeSection(in.Finance),
			marketSection(in.Market, in.Depth),
			insightSection(in.Insights),
			riskSection(in.Insights),
			recommendationSection(in.Insights),
		},
	}
}

func keyPoints(insights domain.Insights) []string {
	points := make([]string, 0, 3)
	for _, ci := range insights.CoreInsights {
		if len(points) == 3 {
			break
		}
		if ci.Title != "" {
			points = append(points, ci.Title)
		}
	}
	return points
}

func companySection(in domain.WriteInput) domain.Section {
	data := in.Structured.Data
	basic := fmt.Sprintf("公司名称：%s\n股票代码：%s\n所属行业：%s",
		companyName(in), orDash(data.StockCode), orDash(data.Industry))

	events := "暂无近期动态"
	if len(data.RecentEvents) > 0 {
		events = bulletList(data.RecentEvents)
	}
	business := orDash(data.MainBusiness)
	if len(data.KeyProducts) > 0 {
		business += "\n主要产品：" + strings.Join(data.KeyProducts, "、")
	}

	return domain.Section{
		ID:      domain.SectionCompanyOverview,
		Title:   "公司概况",
		Content: fmt.Sprintf("%s，%s。", companyName(in), orText(data.MainBusiness, "主营业务信息有限")),
		Subsections: []domain.Subsection{
			{Title: "基本信息", Content: basic},
			{Title: "主营业务", Content: business},
			{Title: "近期动态", Content: events},
		},
	}
}

func financeSection(f domain.FinancialAnalysis) domain.Section {
	dim := func(title string, d domain.Dimension) domain.Subsection {
		content := orText(d.Analysis, "暂无分析")
		if len(d.KeyMetrics) > 0 {
			content += "\n关键指标：" + strings.Join(d.KeyMetrics, "、")
		}
		return domain.Subsection{Title: title, Content: content, Score: d.Score}
	}
	return domain.Section{
		ID:        domain.SectionFinancialAnalysis,
		Title:     "财务分析",
		Content:   orText(f.Summary, fmt.Sprintf("财务健康度综合评分 %d/10。", f.OverallScore)),
		Score:     f.OverallScore,
		KeyPoints: slices.Clone(f.Strengths),
		Subsections: []domain.Subsection{
			dim("盈利能力", f.Profitability),
			dim("偿债能力", f.Solvency),
			dim("运营效率", f.Efficiency),
			dim("成长性", f.Growth),
		},
	}
}

func marketSection(m domain.MarketAnalysis, depth domain.Depth) domain.Section {
	subsections := []domain.Subsection{
		{Title: "行业分析", Content: fmt.Sprintf("行业：%s\n规模：%s\n发展阶段：%s\n增长趋势：%s",
			orDash(m.Industry.Name), orDash(m.Industry.Size), orDash(m.Industry.Stage), orDash(m.Industry.GrowthTrend))},
		{Title: "竞争格局", Content: fmt.Sprintf("竞争强度：%s\n市场排名：%s\n主要竞争对手：%s",
			orDash(m.Competition.Intensity), orDash(m.Competition.MarketShareRank), orDash(strings.Join(m.Competition.MainCompetitors, "、")))},
		{Title: "市场地位", Score: m.Position.Score, Content: fmt.Sprintf("品牌影响力：%s\n技术领先性：%s\n客户基础：%s",
			orDash(m.Position.BrandPower), orDash(m.Position.TechLeadership), orDash(m.Position.CustomerBase))},
		{Title: "SWOT 分析", Content: swotText(m.SWOT)},
		{Title: "发展前景", Content: fmt.Sprintf("短期：%s\n中期：%s\n长期：%s\n评级：%s",
			orDash(m.Outlook.ShortTerm), orDash(m.Outlook.MediumTerm), orDash(m.Outlook.LongTerm), m.Outlook.Rating)},
	}
	if depth == domain.DepthDeep {
		if len(m.PorterFiveForces) > 0 {
			subsections = slices.Insert(subsections, 2, domain.Subsection{Title: "波特五力分析", Content: forcesText(m.PorterFiveForces)})
		}
		if m.Position.MoatAnalysis != "" {
			subsections = append(subsections, domain.Subsection{Title: "护城河分析", Content: m.Position.MoatAnalysis})
		}
	}
	return domain.Section{
		ID:          domain.SectionMarketAnalysis,
		Title:       "市场分析",
		Content:     fmt.Sprintf("市场地位评分 %d/10，行业前景%s。", m.Position.Score, m.Outlook.Rating),
		Score:       m.Position.Score,
		Subsections: subsections,
	}
}

func insightSection(in domain.Insights) domain.Section {
	content := "暂无核心洞察"
	if len(in.CoreInsights) > 0 {
		lines := make([]string, 0, len(in.CoreInsights))
		for n, ci := range in.CoreInsights {
			line := fmt.Sprintf("%d. %s：%s", n+1, ci.Title, ci.Content)
			if ci.Impact != "" {
				line += "（" + ci.Impact + "）"
			}
			lines = append(lines, line)
		}
		content = strings.Join(lines, "\n")
	}
	return domain.Section{
		ID:      domain.SectionInsights,
		Title:   "投资洞察",
		Content: content,
		Subsections: []domain.Subsection{
			{Title: "看多逻辑", Content: orDash(in.Thesis.BullCase)},
			{Title: "看空逻辑", Content: orDash(in.Thesis.BearCase)},
		},
	}
}

func riskSection(in domain.Insights) domain.Section {
	content := "未识别到重大风险，但仍需关注宏观与行业变化。"
	if len(in.KeyRisks) > 0 {
		lines := make([]string, 0, len(in.KeyRisks))
		for _, r := range in.KeyRisks {
			lines = append(lines, fmt.Sprintf("- [%s] %s：%s", orDash(r.Severity), orDash(r.Type), r.Description))
		}
		content = strings.Join(lines, "\n")
	}
	catalysts := make([]string, 0, len(in.Catalysts))
	for _, c := range in.Catalysts {
		catalysts = append(catalysts, c.String())
	}
	return domain.Section{
		ID:        domain.SectionRisks,
		Title:     "风险评估",
		Content:   content,
		KeyPoints: catalysts,
	}
}

func recommendationSection(in domain.Insights) domain.Section {
	r := in.Recommendation
	return domain.Section{
		ID:    domain.SectionRecommendation,
		Title: "投资建议",
		Content: fmt.Sprintf("评级：%s\n置信度：%s\n理由：%s\n适合投资者：%s",
			r.Rating, r.Confidence, orDash(r.Reasoning), orDash(r.TargetAudience)),
		Score: in.OverallScore,
	}
}

func swotText(s domain.SWOT) string {
	group := func(title string, items []domain.LabeledItem) string {
		if len(items) == 0 {
			return "【" + title + "】\n-"
		}
		lines := make([]string, 0, len(items))
		for _, item := range items {
			lines = append(lines, "- "+item.String())
		}
		return "【" + title + "】\n" + strings.Join(lines, "\n")
	}
	return strings.Join([]string{
		group("优势", s.Strengths),
		group("劣势", s.Weaknesses),
		group("机会", s.Opportunities),
		group("威胁", s.Threats),
	}, "\n\n")
}

var forceNames = []struct{ key, title string }{
	{"supplier_power", "供应商议价能力"},
	{"buyer_power", "买方议价能力"},
	{"new_entrants", "新进入者威胁"},
	{"substitutes", "替代品威胁"},
	{"rivalry", "行业竞争强度"},
}

func forcesText(forces map[string]domain.Force) string {
	lines := make([]string, 0, len(forceNames))
	for _, f := range forceNames {
		force, ok := forces[f.key]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s（%d/10）：%s", f.title, force.Score, orDash(force.Analysis)))
	}
	if len(lines) == 0 {
		return "-"
	}
	return strings.Join(lines, "\n")
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}

func orDash(value string) string {
	return orText(value, "-")
}

func orText(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
