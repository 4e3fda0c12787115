package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category classifies a research item within a life care plan.
type Category string

const (
	CategoryRecommendations         Category = "recommendations"
	CategoryDurableMedicalEquipment Category = "durable_medical_equipment"
	CategoryHomeModifications       Category = "home_modifications"
	CategoryMedications             Category = "medications"
	CategoryTherapeuticModalities   Category = "therapeutic_modalities"
	CategoryMedicalSupplies         Category = "medical_supplies"
	CategoryProsthetics             Category = "prosthetics"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryRecommendations,
	CategoryDurableMedicalEquipment,
	CategoryHomeModifications,
	CategoryMedications,
	CategoryTherapeuticModalities,
	CategoryMedicalSupplies,
	CategoryProsthetics,
}

// categoryAliases maps keys emitted by the research agent onto categories.
var categoryAliases = map[string]Category{
	"research_items": CategoryRecommendations,
	"dme":            CategoryDurableMedicalEquipment,
	"equipment":      CategoryDurableMedicalEquipment,
	"medication":     CategoryMedications,
	"therapies":      CategoryTherapeuticModalities,
	"therapy":        CategoryTherapeuticModalities,
	"supplies":       CategoryMedicalSupplies,
	"prosthetic":     CategoryProsthetics,
}

var categoryLabels = map[Category]string{
	CategoryRecommendations:         "Recommendations",
	CategoryDurableMedicalEquipment: "Durable Medical Equipment",
	CategoryHomeModifications:       "Home Modifications",
	CategoryMedications:             "Medications",
	CategoryTherapeuticModalities:   "Therapeutic Modalities",
}

// ParseCategory normalizes a raw category key. The second return value is
// false when the key does not name a known category.
func ParseCategory(raw string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if c, ok := categoryAliases[key]; ok {
		return c, true
	}
	c := Category(key)
	return c, c.Valid()
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Label returns the human-readable heading for the category.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(c), "_", " "))
}
