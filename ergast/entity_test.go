package ergast

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/gridstat/gridkit"
)

func TestEntities(t *testing.T) {
	want := []string{"circuits", "constructors", "drivers", "races", "results"}
	if got := Entities(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLookup(t *testing.T) {
	e, err := Lookup("results")
	if err != nil {
		t.Fatalf("looking up results: %v", err)
	}
	if e.Table != "RaceTable" || e.List != "Races" || e.Expand == nil {
		t.Fatalf("unexpected results descriptor: %+v", e)
	}
	_, err = Lookup("qualifying")
	if err == nil {
		t.Fatal("expected error for unknown entity")
	}
	if !strings.Contains(err.Error(), "circuits, constructors, drivers, races, results") {
		t.Fatalf("expected known entities in error, got %v", err)
	}
}

func TestEntityWiring(t *testing.T) {
	for _, name := range Entities() {
		e := mustEntity(t, name)
		if e.Name != name {
			t.Fatalf("entity %q has name %q", name, e.Name)
		}
		if e.Schema == nil {
			t.Fatalf("entity %q has no schema", name)
		}
		ci, ok := e.Schema.Index(e.CursorField)
		if !ok {
			t.Fatalf("entity %q cursor field %q not in schema", name, e.CursorField)
		}
		if got := e.Schema.Fields[ci].Type; got != gridkit.TypeInt {
			t.Fatalf("entity %q cursor field is %s", name, got)
		}
		if _, ok := e.Schema.Index(e.PartitionField); !ok {
			t.Fatalf("entity %q partition field %q not in schema", name, e.PartitionField)
		}
	}
}

func TestRaceID(t *testing.T) {
	tests := []struct {
		season, round interface{}
		exp           int64
		ok            bool
	}{
		{"2024", "1", 202401, true},
		{"2023", "22", 202322, true},
		{float64(2024), float64(5), 202405, true},
		{"", "1", 0, false},
		{"2024", nil, 0, false},
		{"twenty", "1", 0, false},
	}
	for _, test := range tests {
		got, ok := raceID(test.season, test.round)
		if ok != test.ok || got != test.exp {
			t.Fatalf("raceID(%v, %v) = %d %v, expected %d %v", test.season, test.round, got, ok, test.exp, test.ok)
		}
	}
	// Cursor order follows calendar order across a season boundary.
	last2023, _ := raceID("2023", "22")
	first2024, _ := raceID("2024", "1")
	if last2023 >= first2024 {
		t.Fatalf("expected %d < %d", last2023, first2024)
	}
}

func TestExpandResultsWithoutResults(t *testing.T) {
	race := rawRace("2024", 1)
	if got := expandResults(race); len(got) != 0 {
		t.Fatalf("expected no records for race without results, got %d", len(got))
	}
}

func TestExpandResultsKeepsMalformedItemVisible(t *testing.T) {
	race := rawRace("2024", 1)
	race["Results"] = []interface{}{"garbage"}
	got := expandResults(race)
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	enrichResult(got[0], 0)
	if _, err := ResultsSchema.Normalize(got[0]); err == nil {
		t.Fatal("expected malformed result to be rejected at normalization")
	}
}

// TestNormalizeErgastPayload runs a verbatim API response fragment through
// expansion, enrichment, and normalization.
func TestNormalizeErgastPayload(t *testing.T) {
	const payload = `{
		"season": "2008", "round": "1", "url": "http://en.wikipedia.org/wiki/2008_Australian_Grand_Prix",
		"raceName": "Australian Grand Prix",
		"Circuit": {"circuitId": "albert_park", "circuitName": "Albert Park Grand Prix Circuit",
			"Location": {"lat": "-37.8497", "long": "144.968", "locality": "Melbourne", "country": "Australia"}},
		"date": "2008-03-16", "time": "04:30:00Z",
		"Results": [{
			"number": "22", "position": "1", "positionText": "1", "points": "10",
			"Driver": {"driverId": "hamilton", "permanentNumber": "44", "code": "HAM",
				"givenName": "Lewis", "familyName": "Hamilton", "dateOfBirth": "1985-01-07", "nationality": "British"},
			"Constructor": {"constructorId": "mclaren", "name": "McLaren", "nationality": "British"},
			"grid": "1", "laps": "58", "status": "Finished",
			"Time": {"millis": "5690616", "time": "1:34:50.616"},
			"FastestLap": {"rank": "2", "lap": "39", "Time": {"time": "1:27.452"},
				"AverageSpeed": {"units": "kph", "speed": "218.300"}}
		}]
	}`
	var race map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &race); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	records := expandResults(race)
	if len(records) != 1 {
		t.Fatalf("expected 1 result, got %d", len(records))
	}
	enrichResult(records[0], 0)
	rec, err := ResultsSchema.Normalize(records[0])
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	checks := map[string]interface{}{
		"race_id":          int64(200801),
		"season":           int64(2008),
		"round":            int64(1),
		"race_name":        "Australian Grand Prix",
		"circuit_id":       "albert_park",
		"driver_id":        "hamilton",
		"constructor_id":   "mclaren",
		"position":         int64(1),
		"points":           float64(10),
		"laps":             int64(58),
		"status":           "Finished",
		"millis":           int64(5690616),
		"fastest_lap":      int64(39),
		"fastest_lap_rank": int64(2),
	}
	for name, want := range checks {
		got, ok := rec.Value(name)
		if !ok {
			t.Fatalf("no value for %q", name)
		}
		if got != want {
			t.Fatalf("%s = %v (%T), expected %v (%T)", name, got, got, want, want)
		}
	}
}
