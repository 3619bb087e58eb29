package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foodatlas/pipeline/internal/model"
)

func validRecord() model.AlignedRecord {
	return model.AlignedRecord{
		JobID: "job-1",
		Organization: model.Organization{
			Name: "Community Food Bank",
		},
		Location: &model.Location{
			AddressLine1: "221 Oak St",
			City:         "Springfield",
			StateCode:    "MO",
			PostalCode:   "65801",
		},
	}
}

func TestScorePerfectRecord(t *testing.T) {
	score, outcomes, isTestData := Score(Input{
		Record:           validRecord(),
		Latitude:         37.2089,
		Longitude:        -93.2923,
		HasCoordinates:   true,
		GeocodePrecision: "high",
		AddressState:     "MO",
		CoordinateState:  "MO",
	})
	assert.Equal(t, 100, score)
	assert.False(t, isTestData)
	for _, o := range outcomes {
		assert.False(t, o.Fired, "rule %s fired unexpectedly", o.Rule)
	}
}

func TestScoreMissingCoordinates(t *testing.T) {
	score, _, _ := Score(Input{Record: validRecord(), HasCoordinates: false})
	assert.Equal(t, 0, score)
}

func TestScoreZeroCoordinates(t *testing.T) {
	score, _, _ := Score(Input{Record: validRecord(), Latitude: 0, Longitude: 0, HasCoordinates: true})
	assert.Equal(t, 0, score)
}

func TestScoreOutsideContinentalUS(t *testing.T) {
	score, _, _ := Score(Input{
		Record: validRecord(), Latitude: 61.2181, Longitude: -149.9003, HasCoordinates: true,
	})
	assert.Equal(t, 5, score)
}

func TestScoreTestPlaceholderData(t *testing.T) {
	record := validRecord()
	record.Organization.Name = "Test Organization Foo Bar"
	score, _, isTestData := Score(Input{
		Record: record, Latitude: 37.2, Longitude: -93.3, HasCoordinates: true,
		GeocodePrecision: "high", AddressState: "MO", CoordinateState: "MO",
	})
	assert.True(t, isTestData)
	assert.Equal(t, 5, score)
}

func TestScorePlaceholderAddressFlipsIsTestData(t *testing.T) {
	record := validRecord()
	record.Location.AddressLine1 = "123 Main St"
	score, outcomes, isTestData := Score(Input{
		Record: record, Latitude: 37.2, Longitude: -93.3, HasCoordinates: true,
		GeocodePrecision: "high", AddressState: "MO", CoordinateState: "MO",
	})
	assert.Equal(t, 5, score)
	assert.True(t, isTestData, "a placeholder-list address is one of the two triggers for test_placeholder_data")
	assertFired(t, outcomes, "test_placeholder_data", 95)
}

func TestScoreTestNameAndPlaceholderAddressDoNotStack(t *testing.T) {
	record := validRecord()
	record.Organization.Name = "Test Organization Foo Bar"
	record.Location.AddressLine1 = "123 Main St"
	score, outcomes, isTestData := Score(Input{
		Record: record, Latitude: 37.2, Longitude: -93.3, HasCoordinates: true,
		GeocodePrecision: "high", AddressState: "MO", CoordinateState: "MO",
	})
	assert.True(t, isTestData)
	assertFired(t, outcomes, "test_placeholder_data", 95)
	assert.Equal(t, 5, score, "both triggers belong to one family and must not deduct twice")
}

func TestScoreAddressStateDisagreesWithCoordinates(t *testing.T) {
	score, outcomes, _ := Score(Input{
		Record: validRecord(), Latitude: 38.6270, Longitude: -90.1994, HasCoordinates: true,
		GeocodePrecision: "high", AddressState: "MO", CoordinateState: "IL",
	})
	assert.Equal(t, 80, score)
	assertFired(t, outcomes, "address_state_disagrees_with_coordinates", 20)
}

func TestScoreAddressStateDisagreementSuppressedUnderLegacyPermissive(t *testing.T) {
	score, outcomes, _ := Score(Input{
		Record: validRecord(), Latitude: 38.6270, Longitude: -90.1994, HasCoordinates: true,
		GeocodePrecision: "high", AddressState: "MO", CoordinateState: "IL",
		LegacyPermissiveStateCheck: true,
	})
	assert.Equal(t, 100, score)
	assertNotFired(t, outcomes, "address_state_disagrees_with_coordinates")
}

func TestScoreGeocodePrecisionDeductions(t *testing.T) {
	low, _, _ := Score(Input{Record: validRecord(), Latitude: 37.2, Longitude: -93.3, HasCoordinates: true, GeocodePrecision: "low"})
	medium, _, _ := Score(Input{Record: validRecord(), Latitude: 37.2, Longitude: -93.3, HasCoordinates: true, GeocodePrecision: "medium"})
	high, _, _ := Score(Input{Record: validRecord(), Latitude: 37.2, Longitude: -93.3, HasCoordinates: true, GeocodePrecision: "high"})
	assert.Equal(t, 85, low)
	assert.Equal(t, 90, medium)
	assert.Equal(t, 100, high)
}

func TestScoreMissingCityAndPostalCode(t *testing.T) {
	record := validRecord()
	record.Location.City = ""
	record.Location.PostalCode = ""
	score, _, _ := Score(Input{
		Record: record, Latitude: 37.2, Longitude: -93.3, HasCoordinates: true, GeocodePrecision: "high",
	})
	assert.Equal(t, 85, score)
}

func TestScoreNeverGoesNegative(t *testing.T) {
	record := validRecord()
	record.Organization.Name = "Test Dummy Placeholder"
	record.Location.AddressLine1 = "123 Main St"
	record.Location.City = ""
	record.Location.PostalCode = ""
	score, _, isTestData := Score(Input{
		Record: record, HasCoordinates: false, GeocodePrecision: "low",
	})
	assert.Equal(t, 0, score)
	assert.True(t, isTestData)
}

func TestAccepted(t *testing.T) {
	assert.True(t, Accepted(90, 10, false))
	assert.True(t, Accepted(10, 10, false))
	assert.False(t, Accepted(9, 10, false))
	assert.False(t, Accepted(100, 10, true), "test data is never accepted regardless of score")
}

func assertFired(t *testing.T, outcomes []model.RuleOutcome, rule string, deduction int) {
	t.Helper()
	for _, o := range outcomes {
		if o.Rule == rule {
			assert.True(t, o.Fired)
			assert.Equal(t, deduction, o.Deduction)
			return
		}
	}
	t.Fatalf("rule %s not found in outcomes", rule)
}

func assertNotFired(t *testing.T, outcomes []model.RuleOutcome, rule string) {
	t.Helper()
	for _, o := range outcomes {
		if o.Rule == rule {
			assert.False(t, o.Fired)
			assert.Equal(t, 0, o.Deduction)
			return
		}
	}
	t.Fatalf("rule %s not found in outcomes", rule)
}
