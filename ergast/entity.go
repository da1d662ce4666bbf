package ergast

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/pkg/errors"

	"github.com/gridstat/gridkit"
)

// GeohashPrecision is the character length of the geohash derived from
// circuit coordinates.
const GeohashPrecision = 9

// Entity describes one ingestable listing of the API: where to fetch it,
// how to unwrap the response envelope, how to derive extra columns, and the
// schema its records normalize against.
type Entity struct {
	Name  string
	Path  string
	Table string
	List  string

	// SeasonScoped prefixes Path with the configured season, for listings
	// whose membership is per season (driver and constructor rosters, the
	// circuit calendar).
	SeasonScoped bool

	// Expand flattens one raw listing item into multiple records; race
	// results are nested inside their race. Nil means one item, one record.
	Expand func(raw map[string]interface{}) []map[string]interface{}

	// Enrich derives additional raw fields in place before normalization.
	// Best effort: when its inputs are absent the record is left alone and
	// normalization rejects it instead.
	Enrich func(raw map[string]interface{}, season int)

	Schema         *gridkit.Schema
	CursorField    string
	PartitionField string
}

// Per-entity schemas. Field order is segment column order; bump the version
// when changing it.
var (
	RacesSchema = gridkit.MustSchema("races", 1,
		gridkit.Field{Name: "race_id", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "season", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "round", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "name", Type: gridkit.TypeString, Required: true, Path: []string{"raceName"}},
		gridkit.Field{Name: "circuit_id", Type: gridkit.TypeString, Required: true, Path: []string{"Circuit", "circuitId"}},
		gridkit.Field{Name: "date", Type: gridkit.TypeTime, Required: true, Layout: "2006-01-02"},
		gridkit.Field{Name: "start_time", Type: gridkit.TypeString, Path: []string{"time"}},
		gridkit.Field{Name: "url", Type: gridkit.TypeString},
	)

	ResultsSchema = gridkit.MustSchema("results", 1,
		gridkit.Field{Name: "race_id", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "season", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "round", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "race_name", Type: gridkit.TypeString, Required: true, Path: []string{"race", "raceName"}},
		gridkit.Field{Name: "circuit_id", Type: gridkit.TypeString, Required: true, Path: []string{"race", "Circuit", "circuitId"}},
		gridkit.Field{Name: "driver_id", Type: gridkit.TypeString, Required: true, Path: []string{"Driver", "driverId"}},
		gridkit.Field{Name: "constructor_id", Type: gridkit.TypeString, Required: true, Path: []string{"Constructor", "constructorId"}},
		gridkit.Field{Name: "number", Type: gridkit.TypeInt},
		gridkit.Field{Name: "grid", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "position", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "position_text", Type: gridkit.TypeString, Path: []string{"positionText"}},
		gridkit.Field{Name: "points", Type: gridkit.TypeFloat, Required: true},
		gridkit.Field{Name: "laps", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "status", Type: gridkit.TypeString, Required: true},
		gridkit.Field{Name: "millis", Type: gridkit.TypeInt, Path: []string{"Time", "millis"}},
		gridkit.Field{Name: "fastest_lap", Type: gridkit.TypeInt, Path: []string{"FastestLap", "lap"}},
		gridkit.Field{Name: "fastest_lap_rank", Type: gridkit.TypeInt, Path: []string{"FastestLap", "rank"}},
	)

	DriversSchema = gridkit.MustSchema("drivers", 1,
		gridkit.Field{Name: "season", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "driver_id", Type: gridkit.TypeString, Required: true, Path: []string{"driverId"}},
		gridkit.Field{Name: "code", Type: gridkit.TypeString},
		gridkit.Field{Name: "permanent_number", Type: gridkit.TypeInt, Path: []string{"permanentNumber"}},
		gridkit.Field{Name: "given_name", Type: gridkit.TypeString, Required: true, Path: []string{"givenName"}},
		gridkit.Field{Name: "family_name", Type: gridkit.TypeString, Required: true, Path: []string{"familyName"}},
		gridkit.Field{Name: "date_of_birth", Type: gridkit.TypeTime, Layout: "2006-01-02", Path: []string{"dateOfBirth"}},
		gridkit.Field{Name: "nationality", Type: gridkit.TypeString},
		gridkit.Field{Name: "url", Type: gridkit.TypeString},
	)

	ConstructorsSchema = gridkit.MustSchema("constructors", 1,
		gridkit.Field{Name: "season", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "constructor_id", Type: gridkit.TypeString, Required: true, Path: []string{"constructorId"}},
		gridkit.Field{Name: "name", Type: gridkit.TypeString, Required: true},
		gridkit.Field{Name: "nationality", Type: gridkit.TypeString},
		gridkit.Field{Name: "url", Type: gridkit.TypeString},
	)

	CircuitsSchema = gridkit.MustSchema("circuits", 1,
		gridkit.Field{Name: "season", Type: gridkit.TypeInt, Required: true},
		gridkit.Field{Name: "circuit_id", Type: gridkit.TypeString, Required: true, Path: []string{"circuitId"}},
		gridkit.Field{Name: "name", Type: gridkit.TypeString, Required: true, Path: []string{"circuitName"}},
		gridkit.Field{Name: "locality", Type: gridkit.TypeString, Path: []string{"Location", "locality"}},
		gridkit.Field{Name: "country", Type: gridkit.TypeString, Path: []string{"Location", "country"}},
		gridkit.Field{Name: "lat", Type: gridkit.TypeFloat, Required: true, Path: []string{"Location", "lat"}},
		gridkit.Field{Name: "lng", Type: gridkit.TypeFloat, Required: true, Path: []string{"Location", "long"}},
		gridkit.Field{Name: "geohash", Type: gridkit.TypeString},
		gridkit.Field{Name: "url", Type: gridkit.TypeString},
	)
)

var entities = map[string]Entity{
	"races": {
		Name:           "races",
		Path:           "races",
		Table:          "RaceTable",
		List:           "Races",
		Enrich:         enrichRace,
		Schema:         RacesSchema,
		CursorField:    "race_id",
		PartitionField: "season",
	},
	"results": {
		Name:           "results",
		Path:           "results",
		Table:          "RaceTable",
		List:           "Races",
		Expand:         expandResults,
		Enrich:         enrichResult,
		Schema:         ResultsSchema,
		CursorField:    "race_id",
		PartitionField: "season",
	},
	"drivers": {
		Name:           "drivers",
		Path:           "drivers",
		Table:          "DriverTable",
		List:           "Drivers",
		SeasonScoped:   true,
		Enrich:         enrichRoster,
		Schema:         DriversSchema,
		CursorField:    "season",
		PartitionField: "season",
	},
	"constructors": {
		Name:           "constructors",
		Path:           "constructors",
		Table:          "ConstructorTable",
		List:           "Constructors",
		SeasonScoped:   true,
		Enrich:         enrichRoster,
		Schema:         ConstructorsSchema,
		CursorField:    "season",
		PartitionField: "season",
	},
	"circuits": {
		Name:           "circuits",
		Path:           "circuits",
		Table:          "CircuitTable",
		List:           "Circuits",
		SeasonScoped:   true,
		Enrich:         enrichCircuit,
		Schema:         CircuitsSchema,
		CursorField:    "season",
		PartitionField: "season",
	},
}

// Entities returns the registered entity names, sorted.
func Entities() []string {
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the descriptor for the named entity.
func Lookup(name string) (Entity, error) {
	e, ok := entities[name]
	if !ok {
		return Entity{}, errors.Errorf("unknown entity %q (have %s)", name, strings.Join(Entities(), ", "))
	}
	return e, nil
}

// raceID orders races across seasons: season*100+round. Round numbers stay
// well below 100, so the encoding is collision-free and sorts by calendar.
func raceID(season, round interface{}) (int64, bool) {
	s, ok := atoi(season)
	if !ok {
		return 0, false
	}
	r, ok := atoi(round)
	if !ok {
		return 0, false
	}
	return s*100 + r, true
}

func enrichRace(raw map[string]interface{}, _ int) {
	if id, ok := raceID(raw["season"], raw["round"]); ok {
		raw["race_id"] = id
	}
}

func enrichResult(raw map[string]interface{}, _ int) {
	race, _ := raw["race"].(map[string]interface{})
	if race == nil {
		return
	}
	raw["season"] = race["season"]
	raw["round"] = race["round"]
	if id, ok := raceID(race["season"], race["round"]); ok {
		raw["race_id"] = id
	}
}

func enrichRoster(raw map[string]interface{}, season int) {
	raw["season"] = season
}

func enrichCircuit(raw map[string]interface{}, season int) {
	raw["season"] = season
	loc, _ := raw["Location"].(map[string]interface{})
	if loc == nil {
		return
	}
	lat, okLat := atof(loc["lat"])
	lng, okLng := atof(loc["long"])
	if okLat && okLng {
		raw["geohash"] = geohash.EncodeWithPrecision(lat, lng, GeohashPrecision)
	}
}

// expandResults emits one record per result within a race, with the parent
// race (sans the results themselves) attached under "race".
func expandResults(raw map[string]interface{}) []map[string]interface{} {
	items, _ := raw["Results"].([]interface{})
	race := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k != "Results" {
			race[k] = v
		}
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		res, ok := item.(map[string]interface{})
		if !ok {
			// Surfaces downstream as a rejection rather than vanishing.
			res = map[string]interface{}{}
		}
		res["race"] = race
		out = append(out, res)
	}
	return out
}

func atoi(v interface{}) (int64, bool) {
	switch vt := v.(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(vt), 10, 64)
		return i, err == nil
	case float64:
		return int64(vt), true
	case int:
		return int64(vt), true
	case int64:
		return vt, true
	}
	return 0, false
}

func atof(v interface{}) (float64, bool) {
	switch vt := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(vt), 64)
		return f, err == nil
	case float64:
		return vt, true
	}
	return 0, false
}
