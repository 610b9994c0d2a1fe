package strava

// TokenResponse is the body returned by the token endpoint for an
// authorization-code exchange.
type TokenResponse struct {
	TokenType    string  `json:"token_type"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    int64   `json:"expires_at"`
	ExpiresIn    int64   `json:"expires_in"`
	Athlete      Athlete `json:"athlete"`
}

// RefreshResponse is the body returned by the token endpoint for a refresh.
type RefreshResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Athlete identifies the authenticated account.
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

// ActivitySummary is one entry of the paginated athlete activity listing. The
// per-activity detail endpoint returns the same shape with the enrichment
// fields populated.
type ActivitySummary struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	StartDate          string    `json:"start_date"`
	StartDateLocal     string    `json:"start_date_local"`
	Timezone           string    `json:"timezone"`
	UTCOffset          float64   `json:"utc_offset"`
	StartLatlng        []float64 `json:"start_latlng"`
	EndLatlng          []float64 `json:"end_latlng"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	ElevHigh           float64   `json:"elev_high"`
	ElevLow            float64   `json:"elev_low"`
	AverageWatts       *float64  `json:"average_watts"`
	AverageHeartrate   *float64  `json:"average_heartrate"`
	MaxHeartrate       *float64  `json:"max_heartrate"`
	Calories           *float64  `json:"calories"`
	DeviceName         string    `json:"device_name"`
	Map                *Map      `json:"map"`
}

// Map carries the encoded route polyline of an activity.
type Map struct {
	ID              string `json:"id"`
	SummaryPolyline string `json:"summary_polyline"`
}

// StreamSet is keyed by stream type ("time", "heartrate", ...), matching the
// key_by_type representation of the streams endpoint.
type StreamSet map[string]Stream

// Stream is one sample series of an activity.
type Stream struct {
	Data         []float64 `json:"data"`
	SeriesType   string    `json:"series_type"`
	OriginalSize int       `json:"original_size"`
	Resolution   string    `json:"resolution"`
}

// DefaultStreamKeys are the series fetched during detail enrichment.
var DefaultStreamKeys = []string{
	"time", "distance", "altitude", "heartrate",
	"velocity_smooth", "cadence", "watts", "temp", "grade_smooth",
}
