package classfeed

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"

	seyerrs "github.com/jdholdren/classfeed/internal/errors"
)

const (
	MaxLimit           = 100
	MinTimeWindowHours = 1
	MaxTimeWindowHours = 24 * 365
	MaxRadiusKM        = 1000
	MinSearchLength    = 2
	MaxSearchLength    = 500
	MaxTags            = 20
)

// Validate checks the query before anything goes over the network. Every
// violation is reported, not just the first one found.
//
// A zero limit is allowed and means [DefaultLimit].
func (q FeedQuery) Validate() error {
	var details []seyerrs.Detail
	add := func(field, format string, args ...any) {
		details = append(details, seyerrs.Detail{Field: field, Error: fmt.Sprintf(format, args...)})
	}

	if q.Limit != 0 && (q.Limit < 1 || q.Limit > MaxLimit) {
		add("limit", "must be between 1 and %d", MaxLimit)
	}
	if q.Offset < 0 {
		add("offset", "must not be negative")
	}
	if q.FeedType != "" && !q.FeedType.Valid() {
		add("feed_type", "unknown algorithm %q", q.FeedType)
	}

	if q.TimeWindowHours != nil {
		if h := *q.TimeWindowHours; h < MinTimeWindowHours || h > MaxTimeWindowHours {
			add("time_window_hours", "must be between %d and %d", MinTimeWindowHours, MaxTimeWindowHours)
		}
	}

	if q.LocationRadiusKM != nil {
		r := *q.LocationRadiusKM
		if math.IsNaN(r) || r <= 0 || r > MaxRadiusKM {
			add("location_radius_km", "must be greater than 0 and at most %d", MaxRadiusKM)
		}
		if q.UserCoordinates == nil {
			add("user_coordinates", "required when location_radius_km is set")
		}
	}
	if c := q.UserCoordinates; c != nil {
		if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
			add("user_coordinates.lat", "must be between -90 and 90")
		}
		if math.IsNaN(c.Lng) || c.Lng < -180 || c.Lng > 180 {
			add("user_coordinates.lng", "must be between -180 and 180")
		}
	}

	if q.SearchQuery != "" {
		if n := utf8.RuneCountInString(q.SearchQuery); n < MinSearchLength || n > MaxSearchLength {
			add("search_query", "must be between %d and %d characters", MinSearchLength, MaxSearchLength)
		}
	}
	if len(q.Tags) > MaxTags {
		add("tags", "at most %d tags are allowed", MaxTags)
	}

	if s := q.MinEngagementScore; s != nil && (math.IsNaN(*s) || math.IsInf(*s, 0) || *s < 0) {
		add("min_engagement_score", "must not be negative")
	}

	after, afterErr := ParseDateBound(q.PostedAfter)
	if afterErr != nil {
		add("posted_after", "unparseable date %q", q.PostedAfter)
	}
	before, beforeErr := ParseDateBound(q.PostedBefore)
	if beforeErr != nil {
		add("posted_before", "unparseable date %q", q.PostedBefore)
	}
	if afterErr == nil && beforeErr == nil && !after.IsZero() && !before.IsZero() && after.After(before) {
		add("posted_after", "must not be after posted_before")
	}

	if len(details) == 0 {
		return nil
	}
	return seyerrs.Invalid(details)
}

// ParseDateBound parses a date filter in any common layout. An empty string is
// the zero time.
func ParseDateBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing date bound: %w", err)
	}
	return t.UTC(), nil
}
