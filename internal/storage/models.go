package storage

import "time"

// FlightStatus is the normalised movement state stored in flights.status.
type FlightStatus string

const (
	StatusScheduled FlightStatus = "Scheduled"
	StatusOnTime    FlightStatus = "On Time"
	StatusDelayed   FlightStatus = "Delayed"
	StatusCancelled FlightStatus = "Cancelled"
	StatusDiverted  FlightStatus = "Diverted"
	StatusUnknown   FlightStatus = "Unknown"
)

// AllStatuses lists every storable status in display order.
var AllStatuses = []FlightStatus{
	StatusScheduled, StatusOnTime, StatusDelayed, StatusCancelled, StatusDiverted, StatusUnknown,
}

// Valid reports whether s is one of the enumerated statuses.
func (s FlightStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Airport is one row of the airport table. ICAOCode and IATACode are each unique.
type Airport struct {
	ICAOCode  string  `json:"icao_code"`
	IATACode  string  `json:"iata_code"`
	Name      string  `json:"name"`
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Continent string  `json:"continent"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// Aircraft is one row of the aircraft table, keyed by registration.
type Aircraft struct {
	Registration string `json:"registration"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	ICAOTypeCode string `json:"icao_type_code"`
	Owner        string `json:"owner"`
}

// Flight is one observed movement. ID is derived from the natural key
// before the write. Origin, destination and registration are soft references.
type Flight struct {
	ID                   string       `json:"flight_id"`
	FlightNumber         string       `json:"flight_number"`
	AircraftRegistration string       `json:"aircraft_registration"`
	OriginCode           string       `json:"origin_code"`
	DestinationCode      string       `json:"destination_code"`
	ScheduledDeparture   *time.Time   `json:"scheduled_departure,omitempty"`
	ActualDeparture      *time.Time   `json:"actual_departure,omitempty"`
	ScheduledArrival     *time.Time   `json:"scheduled_arrival,omitempty"`
	ActualArrival        *time.Time   `json:"actual_arrival,omitempty"`
	Status               FlightStatus `json:"status"`
	AirlineCode          string       `json:"airline_code"`
}

// DelayStat is the daily delay snapshot of one airport. Date is midnight UTC.
//
// AvgDelayMin and MedianDelayMin are an approximation derived from the share
// of delayed flights, not measured delay minutes.
type DelayStat struct {
	AirportCode     string    `json:"airport_code"`
	Date            time.Time `json:"delay_date"`
	TotalFlights    int       `json:"total_flights"`
	DelayedFlights  int       `json:"delayed_flights"`
	CanceledFlights int       `json:"canceled_flights"`
	AvgDelayMin     float64   `json:"avg_delay_min"`
	MedianDelayMin  float64   `json:"median_delay_min"`
}

// Counts holds row counts of the four pipeline tables.
type Counts struct {
	Airports int `json:"airports"`
	Aircraft int `json:"aircraft"`
	Flights  int `json:"flights"`
	Delays   int `json:"delays"`
}
