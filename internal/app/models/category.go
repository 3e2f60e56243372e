package models

import (
	"fmt"

	"golang.org/x/text/language"
)

// Category is the closed set of report kinds. Display labels are a
// pure function of the variant plus a language tag and are never parsed
// back into a Category.
type Category string

const (
	CategoryRaid       Category = "raid"
	CategoryCheckpoint Category = "checkpoint"
)

// Categories lists every valid variant.
func Categories() []Category {
	return []Category{CategoryRaid, CategoryCheckpoint}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryRaid, CategoryCheckpoint:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory maps a wire identifier onto the closed set.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrValidation, s)
	}
	return c, nil
}

var supportedLanguages = []language.Tag{
	language.English, // fallback
	language.Spanish,
	language.Russian,
	language.Arabic,
	language.Hindi,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

var categoryLabels = map[Category]map[language.Tag]string{
	CategoryRaid: {
		language.English: "🚨 Raid",
		language.Spanish: "🚨 Redada",
		language.Russian: "🚨 Рейд",
		language.Arabic:  "🚨 مداهمة",
		language.Hindi:   "🚨 रेड",
	},
	CategoryCheckpoint: {
		language.English: "🛃 Checkpoint",
		language.Spanish: "🛃 Puesto de control",
		language.Russian: "🛃 Контрольный пункт",
		language.Arabic:  "🛃 نقطة تفتيش",
		language.Hindi:   "🛃 चेकपॉइंट",
	},
}

// Label renders the display label for a BCP-47 language tag, falling
// back to English for unsupported or malformed tags.
func (c Category) Label(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	_, idx, _ := languageMatcher.Match(tag)
	if label, ok := categoryLabels[c][supportedLanguages[idx]]; ok {
		return label
	}
	return categoryLabels[c][language.English]
}
