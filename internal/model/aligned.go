// Package model defines the wire types shared across pipeline stages: the
// LLM-aligned JSON schema produced by the LLM adapter and the validator's
// output (ValidationResult, RuleOutcome). Every type
// here is a strictly-typed required-field struct plus a sparse optional
// container, never a free-form map — unknown fields are rejected at parse
// time rather than silently carried through.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Organization is the organization block of the LLM-aligned schema.
type Organization struct {
	Name          string `json:"name"`
	AlternateName string `json:"alternate_name,omitempty"`
	Description   string `json:"description,omitempty"`
	Email         string `json:"email,omitempty"`
	URL           string `json:"url,omitempty"`
	TaxStatus     string `json:"tax_status,omitempty"`
	SourceOrgID   string `json:"source_org_id,omitempty"`
}

// Location is the location block of the LLM-aligned schema. It is a pointer
// at the AlignedRecord level because the model may legitimately return null
// when no physical location could be extracted from the source text.
type Location struct {
	Name         string  `json:"name,omitempty"`
	AddressLine1 string  `json:"address_1,omitempty"`
	City         string  `json:"city,omitempty"`
	StateCode    string  `json:"state_province,omitempty"`
	PostalCode   string  `json:"postal_code,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// Service is one entry in the services array of the LLM-aligned schema.
type Service struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Schedule is one entry in the schedules array of the LLM-aligned schema.
type Schedule struct {
	Weekday   string `json:"weekday"`
	OpensAt   string `json:"opens_at,omitempty"`
	ClosesAt  string `json:"closes_at,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// AlignedRecord is the LLM worker's output: a single raw payload aligned to
// the HSDS subset. SourceURL and ScraperID are carried alongside, not part
// of the model's own output, so the worker attaches them after parsing.
type AlignedRecord struct {
	JobID        string     `json:"job_id"`
	ContentHash  string     `json:"content_hash"`
	Organization Organization `json:"organization"`
	Location     *Location  `json:"location"`
	Services     []Service  `json:"services"`
	Schedules    []Schedule `json:"schedules"`
	SourceURL    string     `json:"source_url"`
	ScraperID    string     `json:"scraper_id"`
}

// alignedWire mirrors the top-level shape the LLM is instructed to produce.
// It excludes job_id/content_hash/source_url/scraper_id, which are not part
// of the model's output and are attached by the adapter after parsing.
type alignedWire struct {
	Organization Organization `json:"organization"`
	Location     *Location    `json:"location"`
	Services     []Service    `json:"services"`
	Schedules    []Schedule   `json:"schedules"`
}

// ErrSchemaViolation indicates the decoded JSON carried fields outside the
// HSDS subset, or was missing a required top-level key.
type ErrSchemaViolation struct {
	Detail string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema violation: %s", e.Detail)
}

// ParseAlignedOutput strictly decodes a provider's raw text output (with any
// surrounding markdown code fence already stripped by the caller) into the
// LLM-aligned wire shape. Unknown top-level or nested fields are rejected
// rather than silently dropped, per the "bit-exact" contract.
func ParseAlignedOutput(raw []byte) (*alignedWire, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var out alignedWire
	if err := dec.Decode(&out); err != nil {
		return nil, &ErrSchemaViolation{Detail: err.Error()}
	}
	if out.Organization.Name == "" {
		return nil, &ErrSchemaViolation{Detail: "organization.name is required"}
	}
	for i, svc := range out.Services {
		if svc.Name == "" {
			return nil, &ErrSchemaViolation{Detail: fmt.Sprintf("services[%d].name is required", i)}
		}
	}
	return &out, nil
}
