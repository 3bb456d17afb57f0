package validate

import "strings"

// errorIndicators are phrases only error, block and maintenance pages use.
// Single words are left out because articles mention them in passing.
var errorIndicators = []string{
	"página não encontrada", "page not found", "404 error", "404 not found",
	"acesso negado", "access denied", "403 forbidden",
	"erro interno", "internal server error", "500 error", "500 internal",
	"site em manutenção", "under maintenance", "temporarily unavailable",
	"javascript required", "enable javascript", "javascript disabled",
	"cookies required", "enable cookies", "cookies disabled",
	"browser not supported", "navegador não suportado",
	"connection timed out", "conexão expirou",
	"service unavailable", "serviço indisponível",
	"bad gateway", "gateway timeout",
}

var navigationWords = []string{
	"menu", "home", "contato", "sobre", "login", "cadastro", "produtos", "serviços",
	"contact", "signin", "signup", "products", "services",
}

var functionWordsByLanguage = map[string][]string{
	"pt": {
		"o", "a", "os", "as", "de", "da", "do", "das", "dos", "e", "em", "no", "na",
		"nos", "nas", "um", "uma", "com", "não", "para", "por", "que", "se", "é", "ou",
		"ao", "à", "mais", "como", "seu", "sua",
	},
	"en": {
		"the", "a", "an", "of", "and", "in", "to", "is", "for", "that", "on", "with",
		"as", "by", "it", "or", "be", "are", "from", "at", "this", "not",
	},
}

// FunctionWords returns the high-frequency word set for lang, defaulting to Portuguese.
func FunctionWords(lang string) map[string]struct{} {
	base, _, _ := strings.Cut(strings.ToLower(lang), "-")
	words, ok := functionWordsByLanguage[base]
	if !ok {
		words = functionWordsByLanguage["pt"]
	}
	return toSet(words)
}

func toSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
