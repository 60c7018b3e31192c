package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFeedback() FeedbackItem {
	return FeedbackItem{
		CustomerID:   "C1",
		FacilityID:   "F1",
		PredictionID: "pred-123",
		FeedbackType: FeedbackTypeAccuracy,
		Rating:       4,
	}
}

func TestFeedbackItemValidate(t *testing.T) {
	require.NoError(t, validFeedback().Validate())

	for _, ft := range []string{FeedbackTypeAccuracy, FeedbackTypeUsefulness, FeedbackTypeGeneral, FeedbackTypeRecommendation} {
		item := validFeedback()
		item.FeedbackType = ft
		assert.NoError(t, item.Validate(), ft)
	}
}

func TestFeedbackItemValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*FeedbackItem)
	}{
		{"missing customer_id", func(f *FeedbackItem) { f.CustomerID = "" }},
		{"missing facility_id", func(f *FeedbackItem) { f.FacilityID = "" }},
		{"missing prediction_id", func(f *FeedbackItem) { f.PredictionID = "" }},
		{"unknown feedback_type", func(f *FeedbackItem) { f.FeedbackType = "vibes" }},
		{"empty feedback_type", func(f *FeedbackItem) { f.FeedbackType = "" }},
		{"rating too low", func(f *FeedbackItem) { f.Rating = 0 }},
		{"rating too high", func(f *FeedbackItem) { f.Rating = 6 }},
	}
	for _, c := range cases {
		item := validFeedback()
		c.mutate(&item)
		assert.Error(t, item.Validate(), c.name)
	}
}
