package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/strava"
)

func TestZoneFromDescriptor(t *testing.T) {
	cases := []struct {
		descriptor string
		wantOffset int
	}{
		{"(GMT+02:00) Europe/Helsinki", 2 * 3600},
		{"(GMT-07:00) America/Denver", -7 * 3600},
		{"(GMT+05:30) Asia/Kolkata", 5*3600 + 30*60},
		{"Europe/Helsinki", 0},
		{"", 0},
	}
	for _, tc := range cases {
		zone := zoneFromDescriptor(tc.descriptor)
		_, offset := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).In(zone).Zone()
		require.Equal(t, tc.wantOffset, offset, "descriptor %q", tc.descriptor)
	}
}

func TestNormalizeStartKeepsInstantChangesZone(t *testing.T) {
	start, err := normalizeStart("2024-06-01T10:00:00Z", "(GMT+02:00) Europe/Helsinki")
	require.NoError(t, err)

	require.True(t, start.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	require.Equal(t, 12, start.Hour(), "wall clock follows the activity zone")
}

func TestEndTimeDisplaySameDay(t *testing.T) {
	zone := time.FixedZone("GMT+02:00", 2*3600)
	start := time.Date(2024, 6, 1, 9, 15, 0, 0, zone)

	require.Equal(t, "10:45", endTimeDisplay(start, 90*60))
}

func TestEndTimeDisplayCrossesMidnight(t *testing.T) {
	zone := time.FixedZone("GMT+02:00", 2*3600)
	start := time.Date(2024, 6, 1, 23, 30, 0, 0, zone)

	require.Equal(t, "02.06.2024, 01:00", endTimeDisplay(start, 90*60))
}

func TestNormalizeDropsIncompleteCoordinates(t *testing.T) {
	item, err := normalize(strava.ActivitySummary{
		ID:          7,
		Type:        "Ride",
		StartDate:   "2024-06-01T10:00:00Z",
		Timezone:    "(GMT+02:00) Europe/Helsinki",
		StartLatlng: []float64{60.17, 24.94},
		EndLatlng:   []float64{60.18}, // truncated upstream payload
	})
	require.NoError(t, err)

	require.Len(t, item.Locations, 1)
	require.Equal(t, domain.LocationRoleStart, item.Locations[0].Role)
	require.Equal(t, 60.17, item.Locations[0].Latitude)
}

func TestNormalizeCarriesSummaryFields(t *testing.T) {
	watts := 180.5
	item, err := normalize(strava.ActivitySummary{
		ID:                 1234,
		Name:               "Evening Ride",
		Type:               "Ride",
		SportType:          "MountainBikeRide",
		Distance:           25000,
		MovingTime:         3600,
		ElapsedTime:        3900,
		StartDate:          "2024-06-01T16:00:00Z",
		Timezone:           "(GMT+02:00) Europe/Helsinki",
		TotalElevationGain: 320,
		AverageWatts:       &watts,
		Map:                &strava.Map{SummaryPolyline: "abc123"},
	})
	require.NoError(t, err)

	require.Equal(t, "1234", item.Activity.ExternalID)
	require.Equal(t, 25000.0, item.Activity.DistanceMeters)
	require.Equal(t, "abc123", item.Activity.SummaryPolyline)
	require.NotNil(t, item.Activity.AverageWatts)
	require.Equal(t, 180.5, *item.Activity.AverageWatts)
	require.False(t, item.Activity.FullDetailFetched)
}
