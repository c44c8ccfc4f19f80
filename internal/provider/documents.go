package provider

// Document shapes returned by the provider. Every nested object is a value
// type so an absent or null path decodes to its zero value: empty strings,
// zero numbers. Callers never walk untyped maps.

// Named is the {"name": ...} object the provider uses for country and continent.
type Named struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Location is a latitude/longitude pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// AirportDoc is the /airports/iata/{code} document.
type AirportDoc struct {
	ICAO             string   `json:"icao"`
	IATA             string   `json:"iata"`
	ShortName        string   `json:"shortName"`
	FullName         string   `json:"fullName"`
	MunicipalityName string   `json:"municipalityName"`
	Country          Named    `json:"country"`
	Continent        Named    `json:"continent"`
	Location         Location `json:"location"`
	TimeZone         string   `json:"timeZone"`
}

// MovementTime holds the UTC and local renderings of one timestamp.
type MovementTime struct {
	UTC   string `json:"utc"`
	Local string `json:"local"`
}

// MovementAirport is the remote end of a movement.
type MovementAirport struct {
	ICAO string `json:"icao"`
	IATA string `json:"iata"`
	Name string `json:"name"`
}

// Movement is the timing block of a feed entry.
type Movement struct {
	Airport       MovementAirport `json:"airport"`
	ScheduledTime MovementTime    `json:"scheduledTime"`
	RevisedTime   MovementTime    `json:"revisedTime"`
	Terminal      string          `json:"terminal"`
	Gate          string          `json:"gate"`
}

// MovementAircraft identifies the airframe operating a movement.
type MovementAircraft struct {
	Reg   string `json:"reg"`
	ModeS string `json:"modeS"`
	Model string `json:"model"`
}

// MovementAirline identifies the operating carrier.
type MovementAirline struct {
	Name string `json:"name"`
	IATA string `json:"iata"`
	ICAO string `json:"icao"`
}

// MovementEntry is one element of a departures feed.
type MovementEntry struct {
	Number   string           `json:"number"`
	Status   string           `json:"status"`
	Movement Movement         `json:"movement"`
	Aircraft MovementAircraft `json:"aircraft"`
	Airline  MovementAirline  `json:"airline"`
}

// DeparturesDoc is the /flights/airports/iata/{code} document.
type DeparturesDoc struct {
	Departures []MovementEntry `json:"departures"`
}

// AircraftDoc is the /aircrafts/reg/{registration} document.
type AircraftDoc struct {
	Reg            string `json:"reg"`
	ModeS          string `json:"hexIcao"`
	Model          string `json:"model"`
	ModelCode      string `json:"modelCode"`
	ProductionLine string `json:"productionLine"`
	TypeName       string `json:"typeName"`
	ICAOCode       string `json:"icaoCode"`
	AirlineName    string `json:"airlineName"`
}

// DelayInformation holds the counters of one direction of a delay summary.
type DelayInformation struct {
	NumTotal          int `json:"numTotal"`
	NumQualifiedTotal int `json:"numQualifiedTotal"`
	NumCancelled      int `json:"numCancelled"`
}

// DelayDoc is the /airports/iata/{code}/delays document.
type DelayDoc struct {
	From                       MovementTime     `json:"from"`
	To                         MovementTime     `json:"to"`
	DeparturesDelayInformation DelayInformation `json:"departuresDelayInformation"`
	ArrivalsDelayInformation   DelayInformation `json:"arrivalsDelayInformation"`
}
