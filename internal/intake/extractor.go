package intake

import (
	"regexp"
	"strconv"
	"strings"

	"leadflow_backend/internal/leads/repository"
)

// Qualification extraction over free-form Portuguese customer text. The
// patterns are deliberately permissive: a wrong nil is cheaper than a wrong
// value, so anything ambiguous is left unset.

var (
	billPattern     = regexp.MustCompile(`(?i)(?:conta|fatura|pago|gasto|valor)\D{0,25}?(\d{2,5}(?:[.,]\d{1,2})?)`)
	currencyPattern = regexp.MustCompile(`(?i)r\$\s*(\d{2,5}(?:[.,]\d{1,2})?)`)

	cityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)moro\s+em\s+([\p{L} ]{2,40})`),
		regexp.MustCompile(`(?i)sou\s+de\s+([\p{L} ]{2,40})`),
		regexp.MustCompile(`(?i)estou\s+em\s+([\p{L} ]{2,40})`),
		regexp.MustCompile(`(?i)cidade\s+(?:é|eh|e)\s+([\p{L} ]{2,40})`),
		regexp.MustCompile(`(?i)aqui\s+(?:em|de)\s+([\p{L} ]{2,40})`),
	}

	// Ordered most-specific first: "telha de zinco" must match metálico, not
	// the generic telha entry.
	roofKeywords = []struct{ keyword, roof string }{
		{"fibrocimento", "fibrocimento"},
		{"brasilit", "fibrocimento"},
		{"metálic", "metálico"},
		{"metalic", "metálico"},
		{"zinco", "metálico"},
		{"laje", "laje"},
		{"madeira", "madeira"},
		{"cerâmic", "cerâmico"},
		{"ceramic", "cerâmico"},
		{"colonial", "cerâmico"},
		{"telha", "cerâmico"},
	}

	commercialKeywords  = []string{"comercial", "comércio", "comercio", "empresa", "loja", "mercado", "galpão", "galpao", "escritório", "escritorio"}
	residentialKeywords = []string{"residencial", "residência", "residencia", "minha casa", "em casa", "apartamento"}
	ruralKeywords       = []string{"rural", "fazenda", "sítio", "sitio", "chácara", "chacara"}

	increaseKeywords = []string{
		"aumentar o consumo", "aumentar consumo", "vou aumentar", "pretendo aumentar",
		"carro elétrico", "carro eletrico", "piscina", "ar condicionado", "ar-condicionado",
	}
	noIncreaseKeywords = []string{
		"não pretendo aumentar", "nao pretendo aumentar", "não vou aumentar", "nao vou aumentar",
		"consumo não vai mudar", "consumo nao vai mudar",
	}
)

// extractQualification pulls structured qualification data out of one
// customer message.
func extractQualification(text string) repository.QualificationUpdate {
	var update repository.QualificationUpdate
	lower := strings.ToLower(text)

	if bill, ok := extractBill(text); ok {
		update.MonthlyBill = &bill
	}
	if city, ok := extractCity(text); ok {
		update.City = &city
	}
	if roof, ok := extractRoof(lower); ok {
		update.RoofType = &roof
	}
	if segment, ok := extractSegment(lower); ok {
		update.Segment = &segment
	}
	if increase, ok := extractConsumptionIncrease(lower); ok {
		update.ConsumptionIncrease = &increase
	}

	return update
}

func extractBill(text string) (float64, bool) {
	match := currencyPattern.FindStringSubmatch(text)
	if match == nil {
		match = billPattern.FindStringSubmatch(text)
	}
	if match == nil {
		return 0, false
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil || value < 30 || value > 100000 {
		return 0, false
	}
	return value, true
}

func extractCity(text string) (string, bool) {
	for _, pattern := range cityPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		city := cleanCity(match[1])
		if city != "" {
			return city, true
		}
	}
	return "", false
}

// cleanCity trims trailing sentence fragments the open-ended capture drags in.
func cleanCity(raw string) string {
	city := strings.TrimSpace(raw)
	stopwords := []string{" e ", " mas ", " que ", " com ", " minha ", " meu ", " a "}
	lower := strings.ToLower(city)
	for _, stop := range stopwords {
		if idx := strings.Index(lower, stop); idx > 0 {
			city = strings.TrimSpace(city[:idx])
			lower = strings.ToLower(city)
		}
	}
	if len([]rune(city)) < 3 {
		return ""
	}
	return city
}

func extractRoof(lower string) (string, bool) {
	for _, entry := range roofKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.roof, true
		}
	}
	return "", false
}

func extractSegment(lower string) (string, bool) {
	for _, kw := range ruralKeywords {
		if strings.Contains(lower, kw) {
			return "rural", true
		}
	}
	for _, kw := range commercialKeywords {
		if strings.Contains(lower, kw) {
			return "comercial", true
		}
	}
	for _, kw := range residentialKeywords {
		if strings.Contains(lower, kw) {
			return "residencial", true
		}
	}
	return "", false
}

func extractConsumptionIncrease(lower string) (bool, bool) {
	for _, kw := range noIncreaseKeywords {
		if strings.Contains(lower, kw) {
			return false, true
		}
	}
	for _, kw := range increaseKeywords {
		if strings.Contains(lower, kw) {
			return true, true
		}
	}
	return false, false
}
