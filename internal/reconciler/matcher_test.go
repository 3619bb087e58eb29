package reconciler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodatlas/pipeline/internal/db"
)

// testNameThreshold/testRadiusMeters fix the fuzzy-match cutoffs these tests
// assert against, independent of whatever config.Config.ReconcilerNameSimilarity
// / ReconcilerLocationEpsilonM ship as operator defaults.
const (
	testNameThreshold = 0.85
	testRadiusMeters  = 75.0
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.New(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "reconciler.db"), Logger: zap.NewNop()})
	require.NoError(t, err)
	return gdb
}

func createOrg(t *testing.T, gdb *gorm.DB, name string) db.CanonicalOrganization {
	t.Helper()
	org := db.CanonicalOrganization{Name: name, NameNorm: normalizeName(name), Active: true}
	require.NoError(t, gdb.Create(&org).Error)
	return org
}

func TestMatchOrganizationExactNormalizedName(t *testing.T) {
	gdb := openTestDB(t)
	org := createOrg(t, gdb, "Community Food Bank")

	got, err := MatchOrganization(context.Background(), gdb, "scraper-a", "src-1", "community food bank", testNameThreshold)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, org.ID, got.ID)
}

func TestMatchOrganizationPrefersSourceAttributionOverName(t *testing.T) {
	gdb := openTestDB(t)
	orgA := createOrg(t, gdb, "Community Food Bank")
	orgB := createOrg(t, gdb, "Community Food Bank Annex")

	require.NoError(t, gdb.Create(&db.SourceRecord{
		EntityKind: "organization", CanonicalID: orgB.ID, ScraperID: "scraper-a", SourceEntityID: "src-1", Fields: "{}",
	}).Error)

	got, err := MatchOrganization(context.Background(), gdb, "scraper-a", "src-1", "Community Food Bank", testNameThreshold)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, orgB.ID, got.ID, "an existing source attribution must win over a closer name match")
	_ = orgA
}

func TestMatchOrganizationFuzzyFallback(t *testing.T) {
	gdb := openTestDB(t)
	org := createOrg(t, gdb, "Salvation Army")

	got, err := MatchOrganization(context.Background(), gdb, "scraper-a", "src-1", "Salvation Army Downtown Branch", testNameThreshold)
	require.NoError(t, err)
	require.NotNil(t, got, "a close franchise-variant name must fuzzy-match the existing organization")
	assert.Equal(t, org.ID, got.ID)
}

func TestMatchOrganizationReturnsNilWhenNoneCloseEnough(t *testing.T) {
	gdb := openTestDB(t)
	createOrg(t, gdb, "Community Food Bank")

	got, err := MatchOrganization(context.Background(), gdb, "scraper-a", "src-1", "Totally Unrelated Nonprofit", testNameThreshold)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatchLocationPrefersSourceAttribution(t *testing.T) {
	gdb := openTestDB(t)
	org := createOrg(t, gdb, "Community Food Bank")
	loc := db.CanonicalLocation{OrganizationID: org.ID, AddressLine1: "221 Oak St", City: "Springfield", StateCode: "MO", Latitude: 37.2, Longitude: -93.3}
	require.NoError(t, gdb.Create(&loc).Error)

	require.NoError(t, gdb.Create(&db.SourceRecord{
		EntityKind: "location", CanonicalID: loc.ID, ScraperID: "scraper-a", SourceEntityID: "src-loc-1", Fields: "{}",
	}).Error)

	got, err := MatchLocation(context.Background(), gdb, "scraper-a", "src-loc-1", org.ID, "different address entirely", 0, 0, testNameThreshold, testRadiusMeters)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loc.ID, got.ID)
}

func TestMatchLocationFuzzyMatchRequiresBothNameAndProximity(t *testing.T) {
	gdb := openTestDB(t)
	org := createOrg(t, gdb, "Community Food Bank")
	loc := db.CanonicalLocation{OrganizationID: org.ID, AddressLine1: "221 Oak St", City: "Springfield", StateCode: "MO", Latitude: 37.2089, Longitude: -93.2923}
	require.NoError(t, gdb.Create(&loc).Error)

	near, err := MatchLocation(context.Background(), gdb, "scraper-b", "src-loc-2", org.ID, "221 Oak Street", 37.2089, -93.2923, testNameThreshold, testRadiusMeters)
	require.NoError(t, err)
	require.NotNil(t, near, "a close address at the same coordinates must match")
	assert.Equal(t, loc.ID, near.ID)

	far, err := MatchLocation(context.Background(), gdb, "scraper-b", "src-loc-3", org.ID, "221 Oak Street", 40.0, -80.0, testNameThreshold, testRadiusMeters)
	require.NoError(t, err)
	assert.Nil(t, far, "a matching address far from any known location must not match")
}

func TestMatchServiceScopedToOrganization(t *testing.T) {
	gdb := openTestDB(t)
	orgA := createOrg(t, gdb, "Community Food Bank")
	orgB := createOrg(t, gdb, "Second Harvest")

	svcA := db.CanonicalService{OrganizationID: orgA.ID, Name: "Food Pantry", NameNorm: normalizeName("Food Pantry"), Status: "active"}
	require.NoError(t, gdb.Create(&svcA).Error)
	svcB := db.CanonicalService{OrganizationID: orgB.ID, Name: "Food Pantry", NameNorm: normalizeName("Food Pantry"), Status: "active"}
	require.NoError(t, gdb.Create(&svcB).Error)

	got, err := MatchService(context.Background(), gdb, "scraper-a", "src-svc-1", orgA.ID, "Food Pantry", testNameThreshold)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, svcA.ID, got.ID, "service matching must not cross organization boundaries")
}

func TestMatchServiceReturnsNilForUnknownOrganization(t *testing.T) {
	gdb := openTestDB(t)
	unknownOrgID, err := uuid.NewV7()
	require.NoError(t, err)

	got, err := MatchService(context.Background(), gdb, "scraper-a", "src-svc-1", unknownOrgID, "Food Pantry", testNameThreshold)
	require.NoError(t, err)
	assert.Nil(t, got)
}
