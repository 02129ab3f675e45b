package alert

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys double as the English format strings.
const (
	msgTreatmentExpiring = "Treatment %s expires in %d days"
	msgTreatmentToday    = "Treatment %s expires today"
	msgTreatmentExpired  = "Treatment %s expired %d days ago"
	msgVaccineExpiring   = "Vaccine %s expires in %d days"
	msgVaccineToday      = "Vaccine %s expires today"
	msgVaccineExpired    = "Vaccine %s expired %d days ago"
	msgBooster           = "Booster"
	msgAnnual            = "Annual"
	msgDoseDue           = "%s dose of %s for %s due in %d days"
	msgDoseToday         = "%s dose of %s for %s is due today"
	msgDoseOverdue       = "%s dose of %s for %s is overdue by %d days"
	msgWeightDue         = "Weighing for %s due in %d days"
	msgWeightToday       = "Weighing for %s is due today"
	msgWeightOverdue     = "Weighing for %s is overdue by %d days"
)

// Digest headings, rendered through Localizer.Printer by the digest package.
const (
	MsgDigestSubject    = "Your weekly herd digest: %d notifications (week %d, %d)"
	MsgDigestSummary    = "Summary"
	MsgDigestTotal      = "Total"
	MsgDigestUnread     = "Unread"
	MsgDigestHigh       = "High priority"
	MsgDigestCritical   = "Critical"
	MsgDigestHighlights = "Highlights"
	MsgDigestByType     = "By type"
	MsgDigestByCategory = "By category"
	MsgDigestEmpty      = "Nothing needed your attention this week."
)

// Languages with a translated catalog. The first entry is the fallback.
var Languages = []language.Tag{language.English, language.Spanish}

var messages = newCatalog()

// plurals builds an =1/other selection on the count argument at position arg.
func plurals(arg int, one, other string) catalog.Message {
	return plural.Selectf(arg, "%d", "=1", one, "other", other)
}

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	en, es := language.English, language.Spanish

	set := func(tag language.Tag, key string, msg ...catalog.Message) {
		if err := b.Set(tag, key, msg...); err != nil {
			panic("alert: invalid catalog entry " + key + ": " + err.Error())
		}
	}
	str := func(tag language.Tag, key, s string) { set(tag, key, catalog.String(s)) }

	set(en, msgTreatmentExpiring, plurals(2, "Treatment %[1]s expires in %[2]d day", "Treatment %[1]s expires in %[2]d days"))
	set(en, msgTreatmentExpired, plurals(2, "Treatment %[1]s expired %[2]d day ago", "Treatment %[1]s expired %[2]d days ago"))
	set(en, msgVaccineExpiring, plurals(2, "Vaccine %[1]s expires in %[2]d day", "Vaccine %[1]s expires in %[2]d days"))
	set(en, msgVaccineExpired, plurals(2, "Vaccine %[1]s expired %[2]d day ago", "Vaccine %[1]s expired %[2]d days ago"))
	set(en, msgDoseDue, plurals(4, "%[1]s dose of %[2]s for %[3]s due in %[4]d day", "%[1]s dose of %[2]s for %[3]s due in %[4]d days"))
	set(en, msgDoseOverdue, plurals(4, "%[1]s dose of %[2]s for %[3]s is overdue by %[4]d day", "%[1]s dose of %[2]s for %[3]s is overdue by %[4]d days"))
	set(en, msgWeightDue, plurals(2, "Weighing for %[1]s due in %[2]d day", "Weighing for %[1]s due in %[2]d days"))
	set(en, msgWeightOverdue, plurals(2, "Weighing for %[1]s is overdue by %[2]d day", "Weighing for %[1]s is overdue by %[2]d days"))
	for _, k := range []string{msgTreatmentToday, msgVaccineToday, msgBooster, msgAnnual, msgDoseToday, msgWeightToday,
		MsgDigestSubject, MsgDigestSummary, MsgDigestTotal, MsgDigestUnread, MsgDigestHigh, MsgDigestCritical,
		MsgDigestHighlights, MsgDigestByType, MsgDigestByCategory, MsgDigestEmpty} {
		str(en, k, k)
	}

	set(es, msgTreatmentExpiring, plurals(2, "El tratamiento %[1]s vence en %[2]d día", "El tratamiento %[1]s vence en %[2]d días"))
	str(es, msgTreatmentToday, "El tratamiento %s vence hoy")
	set(es, msgTreatmentExpired, plurals(2, "El tratamiento %[1]s venció hace %[2]d día", "El tratamiento %[1]s venció hace %[2]d días"))
	set(es, msgVaccineExpiring, plurals(2, "La vacuna %[1]s vence en %[2]d día", "La vacuna %[1]s vence en %[2]d días"))
	str(es, msgVaccineToday, "La vacuna %s vence hoy")
	set(es, msgVaccineExpired, plurals(2, "La vacuna %[1]s venció hace %[2]d día", "La vacuna %[1]s venció hace %[2]d días"))
	str(es, msgBooster, "refuerzo")
	str(es, msgAnnual, "anual")
	set(es, msgDoseDue, plurals(4, "Dosis de %[1]s de %[2]s para %[3]s en %[4]d día", "Dosis de %[1]s de %[2]s para %[3]s en %[4]d días"))
	str(es, msgDoseToday, "Dosis de %s de %s para %s vence hoy")
	set(es, msgDoseOverdue, plurals(4, "Dosis de %[1]s de %[2]s para %[3]s atrasada %[4]d día", "Dosis de %[1]s de %[2]s para %[3]s atrasada %[4]d días"))
	set(es, msgWeightDue, plurals(2, "Pesaje de %[1]s en %[2]d día", "Pesaje de %[1]s en %[2]d días"))
	str(es, msgWeightToday, "Pesaje de %s hoy")
	set(es, msgWeightOverdue, plurals(2, "Pesaje de %[1]s atrasado %[2]d día", "Pesaje de %[1]s atrasado %[2]d días"))
	str(es, MsgDigestSubject, "Tu resumen semanal del rebaño: %d notificaciones (semana %d, %d)")
	str(es, MsgDigestSummary, "Resumen")
	str(es, MsgDigestTotal, "Total")
	str(es, MsgDigestUnread, "Sin leer")
	str(es, MsgDigestHigh, "Prioridad alta")
	str(es, MsgDigestCritical, "Críticas")
	str(es, MsgDigestHighlights, "Destacados")
	str(es, MsgDigestByType, "Por tipo")
	str(es, MsgDigestByCategory, "Por categoría")
	str(es, MsgDigestEmpty, "Nada requirió tu atención esta semana.")
	return b
}

// Localizer renders messages in a user's language, falling back to a
// configured default when the language is unknown.
type Localizer struct {
	matcher  language.Matcher
	fallback language.Tag
}

// NewLocalizer returns a Localizer whose fallback is defaultLang, or English
// when defaultLang is not supported.
func NewLocalizer(defaultLang string) *Localizer {
	l := &Localizer{matcher: language.NewMatcher(Languages), fallback: Languages[0]}
	l.fallback = l.Resolve(defaultLang)
	return l
}

// Resolve maps a BCP-47 string onto a supported language.
func (l *Localizer) Resolve(lang string) language.Tag {
	tag, err := language.Parse(lang)
	if err != nil {
		return l.fallback
	}
	_, idx, conf := l.matcher.Match(tag)
	if conf == language.No {
		return l.fallback
	}
	return Languages[idx]
}

// Printer returns a printer bound to the message catalog.
func (l *Localizer) Printer(lang string) *message.Printer {
	return message.NewPrinter(l.Resolve(lang), message.Catalog(messages))
}

// Message renders the candidate's message.
func (l *Localizer) Message(c Candidate, lang string) string {
	return c.Subject.Describe(l.Printer(lang), c.DeltaDays)
}
