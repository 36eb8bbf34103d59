package exchange

// Status is a point-in-time snapshot of an exchange client.
type Status struct {
	ID                     string           `json:"id"`
	BufferedPages          int              `json:"buffered_pages"`
	BufferedBytes          int64            `json:"buffered_bytes"`
	AverageBytesPerRequest int64            `json:"average_bytes_per_request"`
	NoMoreLocations        bool             `json:"no_more_locations"`
	Closed                 bool             `json:"closed"`
	Failure                string           `json:"failure,omitempty"`
	Locations              []LocationStatus `json:"locations"`
}

// LocationStatus is the snapshot of one location.
type LocationStatus struct {
	Location          string `json:"location"`
	State             string `json:"state"`
	Token             int64  `json:"token"`
	PagesReceived     int64  `json:"pages_received"`
	RequestsScheduled int64  `json:"requests_scheduled"`
	RequestsCompleted int64  `json:"requests_completed"`
	RequestsFailed    int64  `json:"requests_failed"`
	RequestState      string `json:"request_state"`
}

// Location returns the status of location, if known.
func (s Status) Location(location string) (LocationStatus, bool) {
	for _, ls := range s.Locations {
		if ls.Location == location {
			return ls, true
		}
	}
	return LocationStatus{}, false
}
