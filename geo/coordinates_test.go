package geo

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCoordinates_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"pairs", `[[0,0],[10,0],[10,10],[0,10]]`, 4, false},
		{"empty", `[]`, 0, false},
		{"null pair", `[[null,null],[10,0],[10,10],[0,10]]`, 0, true},
		{"null latitude", `[[0,null],[10,0],[10,10]]`, 0, true},
		{"null entry", `[null,[10,0],[10,10]]`, 0, true},
		{"string coordinate", `[["x",0],[1,0],[1,1]]`, 0, true},
		{"not an array", `{"lng":0}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Coordinates
			err := json.Unmarshal([]byte(tt.input), &c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrMalformedGeometry) {
					t.Errorf("error = %v, want ErrMalformedGeometry", err)
				}
				return
			}
			if len(c) != tt.want {
				t.Errorf("got %d pairs, want %d", len(c), tt.want)
			}
		})
	}
}

func TestCoordinates_NullFieldIsAbsent(t *testing.T) {
	var body struct {
		Coordinates Coordinates `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(`{"coordinates":null}`), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.Coordinates != nil {
		t.Errorf("Coordinates = %v, want nil", body.Coordinates)
	}
}
