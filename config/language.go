package config

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

const (
	// LanguagePortuguese is the Brazilian Portuguese review language.
	LanguagePortuguese = "pt-BR"
	// LanguageEnglish is the American English review language.
	LanguageEnglish = "en-US"

	// DefaultLanguage is used when an organization never picked one.
	DefaultLanguage = LanguagePortuguese
)

// ErrUnsupportedLanguage is returned for languages without a prompt pack.
var ErrUnsupportedLanguage = errors.New("unsupported review language")

var (
	supportedTags  = []language.Tag{language.BrazilianPortuguese, language.AmericanEnglish}
	supportedNames = []string{LanguagePortuguese, LanguageEnglish}
	languages      = language.NewMatcher(supportedTags)
)

// SupportedLanguages lists the canonical review languages.
func SupportedLanguages() []string {
	out := make([]string, len(supportedNames))
	copy(out, supportedNames)
	return out
}

// CanonicalLanguage maps a BCP 47 tag ("pt", "en-us", "pt-BR") onto a supported
// review language.
func CanonicalLanguage(s string) (string, error) {
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
	}
	_, idx, confidence := languages.Match(tag)
	if confidence < language.High {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
	}
	return supportedNames[idx], nil
}
