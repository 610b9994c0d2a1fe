package sync

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/strava"
)

const (
	dateFormat         = "02.01.2006"
	dateWithTimeFormat = "02.01.2006, 15:04"
	hoursMinutesFormat = "15:04"
)

// gmtOffsetPattern matches the offset part of upstream timezone descriptors
// like "(GMT+02:00) Europe/Helsinki".
var gmtOffsetPattern = regexp.MustCompile(`([+-][0-9]{2}:[0-9]{2}|Z)`)

// zoneFromDescriptor builds a fixed-offset location from the upstream
// timezone descriptor. Descriptors without a recognisable offset fall back to
// UTC.
func zoneFromDescriptor(descriptor string) *time.Location {
	offset := gmtOffsetPattern.FindString(descriptor)
	if offset == "" || offset == "Z" {
		return time.UTC
	}

	sign := 1
	if offset[0] == '-' {
		sign = -1
	}
	hours, err := strconv.Atoi(offset[1:3])
	if err != nil {
		return time.UTC
	}
	minutes, err := strconv.Atoi(offset[4:6])
	if err != nil {
		return time.UTC
	}
	return time.FixedZone("GMT"+offset, sign*(hours*3600+minutes*60))
}

// normalizeStart parses the upstream UTC start instant and re-expresses it in
// the activity's zone so calendar-day comparisons use local dates.
func normalizeStart(startDate, timezone string) (time.Time, error) {
	instant, err := time.Parse(time.RFC3339, startDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start date %q: %w", startDate, err)
	}
	return instant.In(zoneFromDescriptor(timezone)), nil
}

// endTimeDisplay derives the display string for the activity end: time of day
// when the ride ends on the day it started, full date and time otherwise.
func endTimeDisplay(start time.Time, movingTimeSec int) string {
	end := start.Add(time.Duration(movingTimeSec) * time.Second)
	if start.Format(dateFormat) == end.Format(dateFormat) {
		return end.Format(hoursMinutesFormat)
	}
	return end.Format(dateWithTimeFormat)
}

// normalize converts one upstream summary into the insertable record with its
// start/end locations. A location role is only recorded when both coordinates
// are present.
func normalize(upstream strava.ActivitySummary) (domain.NewActivity, error) {
	start, err := normalizeStart(upstream.StartDate, upstream.Timezone)
	if err != nil {
		return domain.NewActivity{}, err
	}

	activity := domain.Activity{
		ExternalID:         strconv.FormatInt(upstream.ID, 10),
		Name:               upstream.Name,
		Description:        upstream.Description,
		Type:               upstream.Type,
		SportType:          upstream.SportType,
		DistanceMeters:     upstream.Distance,
		MovingTimeSec:      upstream.MovingTime,
		ElapsedTimeSec:     upstream.ElapsedTime,
		StartDate:          start,
		EndTimeDisplay:     endTimeDisplay(start, upstream.MovingTime),
		AverageSpeed:       upstream.AverageSpeed,
		MaxSpeed:           upstream.MaxSpeed,
		TotalElevationGain: upstream.TotalElevationGain,
		ElevHigh:           upstream.ElevHigh,
		ElevLow:            upstream.ElevLow,
		AverageWatts:       upstream.AverageWatts,
		AverageHeartrate:   upstream.AverageHeartrate,
		MaxHeartrate:       upstream.MaxHeartrate,
		Calories:           upstream.Calories,
		DeviceName:         upstream.DeviceName,
	}
	if upstream.Map != nil {
		activity.SummaryPolyline = upstream.Map.SummaryPolyline
	}

	item := domain.NewActivity{Activity: activity}
	if loc, ok := location(upstream.StartLatlng, domain.LocationRoleStart); ok {
		item.Locations = append(item.Locations, loc)
	}
	if loc, ok := location(upstream.EndLatlng, domain.LocationRoleEnd); ok {
		item.Locations = append(item.Locations, loc)
	}
	return item, nil
}

func location(latlng []float64, role domain.LocationRole) (domain.Location, bool) {
	if len(latlng) != 2 {
		return domain.Location{}, false
	}
	return domain.Location{Latitude: latlng[0], Longitude: latlng[1], Role: role}, true
}
