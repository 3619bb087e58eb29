package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlignedOutputValid(t *testing.T) {
	raw := []byte(`{
		"organization": {"name": "Community Food Bank"},
		"location": {"address_1": "221 Oak St", "city": "Springfield"},
		"services": [{"name": "Food Pantry"}],
		"schedules": [{"weekday": "monday", "opens_at": "09:00"}]
	}`)
	out, err := ParseAlignedOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "Community Food Bank", out.Organization.Name)
	require.NotNil(t, out.Location)
	assert.Equal(t, "Springfield", out.Location.City)
	require.Len(t, out.Services, 1)
	assert.Equal(t, "Food Pantry", out.Services[0].Name)
}

func TestParseAlignedOutputRejectsUnknownTopLevelField(t *testing.T) {
	raw := []byte(`{
		"organization": {"name": "Community Food Bank"},
		"extra_field": "not allowed"
	}`)
	_, err := ParseAlignedOutput(raw)
	require.Error(t, err)
	var schemaErr *ErrSchemaViolation
	assert.ErrorAs(t, err, &schemaErr)
}

func TestParseAlignedOutputRejectsUnknownNestedField(t *testing.T) {
	raw := []byte(`{
		"organization": {"name": "Community Food Bank", "unexpected": true}
	}`)
	_, err := ParseAlignedOutput(raw)
	require.Error(t, err)
	var schemaErr *ErrSchemaViolation
	assert.ErrorAs(t, err, &schemaErr)
}

func TestParseAlignedOutputRejectsMissingOrganizationName(t *testing.T) {
	raw := []byte(`{"organization": {"description": "no name given"}}`)
	_, err := ParseAlignedOutput(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization.name is required")
}

func TestParseAlignedOutputRejectsServiceMissingName(t *testing.T) {
	raw := []byte(`{
		"organization": {"name": "Community Food Bank"},
		"services": [{"description": "no name given"}]
	}`)
	_, err := ParseAlignedOutput(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "services[0].name is required")
}

func TestParseAlignedOutputAllowsNullLocation(t *testing.T) {
	raw := []byte(`{"organization": {"name": "Community Food Bank"}, "location": null}`)
	out, err := ParseAlignedOutput(raw)
	require.NoError(t, err)
	assert.Nil(t, out.Location)
}

func TestParseAlignedOutputRejectsMalformedJSON(t *testing.T) {
	raw := []byte(`{"organization": {"name": "Community Food Bank"}`)
	_, err := ParseAlignedOutput(raw)
	require.Error(t, err)
	var schemaErr *ErrSchemaViolation
	assert.ErrorAs(t, err, &schemaErr)
}
