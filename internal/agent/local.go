package agent

import (
	"context"
	"fmt"
	"strings"

	"civicline/internal/domain"
)

// LocalRuntime is a keyword-scoring runtime that needs no external
// provider. It classifies by category keyword hits, answers with the
// category's template, and summarizes by truncation.
type LocalRuntime struct{}

var categoryKeywords = map[string][]string{
	"housing":          {"жилье", "дом", "квартира", "проживание", "жилищный"},
	"utilities":        {"коммунальн", "водоснабжение", "отопление", "электричество", "жкх"},
	"social":           {"социальн", "пособие", "пенсия", "материальная помощь", "льготы"},
	"healthcare":       {"медицин", "здравоохранение", "больница", "поликлиника", "врач"},
	"education":        {"образование", "школа", "детский сад", "университет", "обучение"},
	"roads":            {"дорог", "мост", "асфальт", "яма", "транспортн"},
	"public_transport": {"общественный транспорт", "автобус", "маршрут", "остановка"},
	"safety":           {"безопасность", "полиция", "правопорядок", "преступность", "угроза"},
	"environmental":    {"экология", "окружающая среда", "загрязнение", "мусор", "отходы"},
	"business":         {"бизнес", "предпринимательство", "торговля", "предприятие"},
	"land":             {"земля", "участок", "кадастр", "границы", "земельный"},
	"permits":          {"разрешение", "лицензия", "согласование", "разрешительн"},
	"taxation":         {"налог", "налогообложение", "вычет", "иин"},
	"legal":            {"юридическ", "правовой", "закон", "суд", "документ"},
	"agriculture":      {"сельское хозяйство", "аграрн", "фермер", "субсидия", "урожай"},
}

var categoryResponses = map[string]string{
	"housing":   "Ваше обращение по жилищному вопросу зарегистрировано. Для решения вашего вопроса будет привлечен специалист из Жилищного департамента. Срок рассмотрения вашего обращения составляет 7 рабочих дней.",
	"utilities": "Ваше обращение по вопросу коммунальных услуг зарегистрировано. Для оперативного решения вашего вопроса будет привлечен специалист из Департамента ЖКХ.",
	"social":    "Ваше обращение по вопросу социальной поддержки зарегистрировано. Для детального рассмотрения вашего вопроса будет привлечен специалист из Департамента социальной защиты.",
	"default":   "Ваше обращение успешно зарегистрировано в системе. В ближайшее время компетентный специалист рассмотрит ваше обращение и свяжется с вами по указанным контактным данным.",
}

func (LocalRuntime) Invoke(ctx context.Context, content, actionType string, cfg domain.AgentConfig) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	switch actionType {
	case ActionClassification:
		category, confidence := classify(content)
		return Result{Classification: category, Confidence: confidence}, nil
	case ActionSummarization:
		return Result{
			Summary:   summarize(content),
			KeyPoints: []string{"Требуется рассмотрение специалистом", "Необходимо уточнить детали"},
		}, nil
	case ActionResponseGeneration:
		category, _ := classify(content)
		response, ok := categoryResponses[category]
		if !ok {
			response = categoryResponses["default"]
		}
		return Result{
			ResponseText: response,
			Suggestions:  []string{"Уточнить дополнительные детали", "Запросить консультацию специалиста"},
		}, nil
	default:
		return Result{}, fmt.Errorf("unsupported action type %q", actionType)
	}
}

// classify scores every category by keyword hits and returns the best one
// with a confidence of 0.3 + 0.1 per hit, capped at 0.95. No hits at all
// falls back to "general" at 0.5.
func classify(content string) (string, float64) {
	text := strings.ToLower(content)
	best := "general"
	maxScore := 0
	for category, keywords := range categoryKeywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > maxScore || (score == maxScore && score > 0 && category < best) {
			maxScore = score
			best = category
		}
	}
	if maxScore == 0 {
		return "general", 0.5
	}
	confidence := 0.3 + float64(maxScore)*0.1
	if confidence > 0.95 {
		confidence = 0.95
	}
	return best, confidence
}

func summarize(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= 100 {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:100])) + "..."
}
