// Package i18n provides the localized user-facing messages.
//
// The bot answers in Swedish by default (the knowledge base is the Swedish
// education handbook) with an English variant for the English handbook.
// A Translator is an immutable value constructed once from configuration and
// passed to components; there is no package-level language state.
package i18n

import "strings"

// Supported languages.
const (
	LangSV = "sv"
	LangEN = "en"
)

// messages maps language -> key -> text. Populated by the per-language
// message files in this package.
var messages = map[string]map[string]string{
	LangSV: messagesSV,
	LangEN: messagesEN,
}

// Translator resolves message keys for one fixed language.
type Translator struct {
	lang string
}

// New returns a Translator for the given language code. Unknown or empty
// codes fall back to Swedish, matching the original deployment default.
func New(lang string) Translator {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := messages[lang]; !ok {
		lang = LangSV
	}
	return Translator{lang: lang}
}

// Language returns the resolved language code.
func (t Translator) Language() string {
	return t.lang
}

// T returns the message for key, falling back to Swedish and finally to the
// key itself so a missing translation never produces an empty reply.
func (t Translator) T(key string) string {
	if msg, ok := messages[t.lang][key]; ok {
		return msg
	}
	if msg, ok := messages[LangSV][key]; ok {
		return msg
	}
	return key
}

// Supported reports whether lang is a supported language code.
func Supported(lang string) bool {
	_, ok := messages[strings.ToLower(strings.TrimSpace(lang))]
	return ok
}
