// Package i18n selects message printers for API responses and CLI output.
package i18n

import (
	"context"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we ship a catalog for.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// Message keys shared by the API and the CLI. English text is the key.
const (
	MsgUnknownEntity    = "unknown entity %s"
	MsgInvalidState     = "invalid state %q, want on or off"
	MsgUnauthorized     = "missing or invalid API key"
	MsgAuditUnavailable = "audit trail is disabled"
	MsgRateLimited      = "too many toggle requests, retry later"
	MsgToggleResult     = "%s: %s"
	MsgStateOn          = "on"
	MsgStateOff         = "off"
	MsgOutcomeApplied   = "applied"
	MsgOutcomeRejected  = "rejected"
	MsgOutcomeBusy      = "busy"
	MsgOutcomeDenied    = "denied"
	MsgOutcomeElsewhere = "managed-elsewhere"
)

func init() {
	de := map[string]string{
		MsgUnknownEntity:    "unbekannte Entität %s",
		MsgInvalidState:     "ungültiger Zustand %q, erwartet on oder off",
		MsgUnauthorized:     "API-Schlüssel fehlt oder ist ungültig",
		MsgAuditUnavailable: "Prüfprotokoll ist deaktiviert",
		MsgRateLimited:      "zu viele Schaltanfragen, bitte später erneut versuchen",
		MsgStateOn:          "an",
		MsgStateOff:         "aus",
		MsgOutcomeApplied:   "übernommen",
		MsgOutcomeRejected:  "abgelehnt",
		MsgOutcomeBusy:      "beschäftigt",
		MsgOutcomeDenied:    "verweigert",
		MsgOutcomeElsewhere: "extern verwaltet",
	}
	for key, msg := range de {
		_ = message.SetString(language.German, key, msg)
	}
}

type contextKey struct{}

// printerKey is the key used to store the printer in the context
var printerKey = contextKey{}

// MatchLanguage returns the best matching language for an Accept-Language value.
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// WithPrinter returns a new context with the printer injected
func WithPrinter(ctx context.Context, p *message.Printer) context.Context {
	return context.WithValue(ctx, printerKey, p)
}

// GetPrinter returns the printer from the context, or a default one
func GetPrinter(ctx context.Context) *message.Printer {
	p, ok := ctx.Value(printerKey).(*message.Printer)
	if !ok {
		return message.NewPrinter(DefaultLang)
	}
	return p
}

// NewCLIPrinter returns a printer for the locale in LC_ALL or LANG.
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(CLILanguage(os.Getenv("LC_ALL"), os.Getenv("LANG")))
}

// CLILanguage maps POSIX locale values ("de_DE.UTF-8") to a supported tag.
// The first non-empty value wins.
func CLILanguage(locales ...string) language.Tag {
	for _, lang := range locales {
		if lang == "" || lang == "C" || lang == "POSIX" {
			continue
		}
		if i := strings.IndexAny(lang, ".@"); i != -1 {
			lang = lang[:i]
		}
		tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
		if err != nil {
			return DefaultLang
		}
		matched, _, _ := matcher.Match(tag)
		return matched
	}
	return DefaultLang
}
