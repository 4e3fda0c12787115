package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Category
		ok   bool
	}{
		{"durable_medical_equipment", CategoryDurableMedicalEquipment, true},
		{"Durable Medical Equipment", CategoryDurableMedicalEquipment, true},
		{"research_items", CategoryRecommendations, true},
		{"  Medications ", CategoryMedications, true},
		{"home-modifications", CategoryHomeModifications, true},
		{"therapy", CategoryTherapeuticModalities, true},
		{"groceries", Category("groceries"), false},
		{"", Category(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseCategory(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategory_Label(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Durable Medical Equipment", CategoryDurableMedicalEquipment.Label())
	assert.Equal(t, "Recommendations", CategoryRecommendations.Label())
	// No explicit label: falls back to a title-cased key.
	assert.Equal(t, "Medical Supplies", CategoryMedicalSupplies.Label())
	assert.Equal(t, "Prosthetics", CategoryProsthetics.Label())
}

func TestApprovalStatus_Resolved(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusApproved.Resolved())
	assert.True(t, StatusRejected.Resolved())
	assert.False(t, StatusPending.Resolved())
	assert.False(t, StatusNeedsReview.Resolved())
	assert.False(t, ApprovalStatus("archived").Valid())
}
