package smartwater

import (
	"math"
	"testing"
	"time"
)

func TestResolve_FirstPrefixMatch(t *testing.T) {
	tests := []struct {
		familySub  string
		key        string
		wantFamily string
		wantOK     bool
	}{
		{familySub: "d.tank", key: "status", wantFamily: "d", wantOK: true},
		{familySub: "d.tank", key: "water_level", wantFamily: "d.tank", wantOK: true},
		{familySub: "d.pump", key: "water_level", wantOK: false},
		{familySub: "gw", key: "status", wantFamily: "gw", wantOK: true},
		{familySub: "gw.hub", key: "signal", wantFamily: "gw", wantOK: true},
		{familySub: "pr", key: "name", wantFamily: "", wantOK: true},
		{familySub: "pr", key: "status", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.familySub+"/"+tt.key, func(t *testing.T) {
			dp, ok := Resolve(tt.familySub, tt.key)
			if ok != tt.wantOK {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && dp.Family != tt.wantFamily {
				t.Errorf("Resolve() family = %q, want %q", dp.Family, tt.wantFamily)
			}
		})
	}
}

func TestForPlatform(t *testing.T) {
	sensors := ForPlatform("d.tank", PlatformSensor)
	binaries := ForPlatform("d.tank", PlatformBinarySensor)

	if len(sensors) == 0 || len(binaries) == 0 {
		t.Fatalf("expected tank sensors and binary sensors, got %d/%d", len(sensors), len(binaries))
	}
	// Generic device entries come first in table order
	if sensors[0].Key != "status" {
		t.Errorf("first tank sensor = %q, want status", sensors[0].Key)
	}
	for _, dp := range append(sensors, binaries...) {
		if dp.Family != "d" && dp.Family != "d.tank" {
			t.Errorf("unexpected family %q for key %q", dp.Family, dp.Key)
		}
	}
	if got := ForPlatform("d.tank", PlatformNone); got != nil {
		t.Errorf("ForPlatform(none) = %v, want nil", got)
	}
}

func TestDatapoint_Flags(t *testing.T) {
	tests := []struct {
		flags        string
		wantEnabled  bool
		wantCategory string
	}{
		{"e,none", true, CategoryNone},
		{"d,diag", false, CategoryDiagnostic},
		{"e,conf", true, CategoryConfig},
		{"e,None", true, CategoryNone},
		{"", true, CategoryNone},
	}

	for _, tt := range tests {
		t.Run(tt.flags, func(t *testing.T) {
			dp := Datapoint{Flags: tt.flags}
			if dp.EnabledDefault() != tt.wantEnabled {
				t.Errorf("EnabledDefault() = %v, want %v", dp.EnabledDefault(), tt.wantEnabled)
			}
			if dp.Category() != tt.wantCategory {
				t.Errorf("Category() = %q, want %q", dp.Category(), tt.wantCategory)
			}
		})
	}
}

func TestDatapoint_Convert(t *testing.T) {
	enum := Datapoint{Format: FormatEnum, Options: TrendLevelOptions}

	tests := []struct {
		name   string
		dp     Datapoint
		raw    any
		want   any
		wantOK bool
	}{
		{name: "string from number", dp: Datapoint{Format: FormatString}, raw: 12.5, want: "12.5", wantOK: true},
		{name: "int truncates", dp: Datapoint{Format: FormatInt}, raw: 7.9, want: int64(7), wantOK: true},
		{name: "int from string", dp: Datapoint{Format: FormatInt}, raw: "42", want: int64(42), wantOK: true},
		{name: "int rejects text", dp: Datapoint{Format: FormatInt}, raw: "abc", wantOK: false},
		{name: "int rejects NaN", dp: Datapoint{Format: FormatInt}, raw: math.NaN(), wantOK: false},
		{name: "f1", dp: Datapoint{Format: FormatFloat1}, raw: 1.26, want: 1.3, wantOK: true},
		{name: "f4", dp: Datapoint{Format: FormatFloat4}, raw: -33.123456, want: -33.1235, wantOK: true},
		{name: "bool true", dp: Datapoint{Format: FormatBool}, raw: true, want: true, wantOK: true},
		{name: "bool one", dp: Datapoint{Format: FormatBool}, raw: float64(1), want: true, wantOK: true},
		{name: "bool string zero", dp: Datapoint{Format: FormatBool}, raw: "0", want: false, wantOK: true},
		{name: "bool other", dp: Datapoint{Format: FormatBool}, raw: "yes", wantOK: false},
		{name: "bool two", dp: Datapoint{Format: FormatBool}, raw: float64(2), wantOK: false},
		{name: "enum flat", dp: enum, raw: float64(0), want: "flat", wantOK: true},
		{name: "enum up", dp: enum, raw: "3", want: "up", wantOK: true},
		{name: "enum unknown passes through", dp: enum, raw: "9", want: "9", wantOK: true},
		{name: "nil", dp: Datapoint{Format: FormatString}, raw: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.dp.Convert(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Convert(%v) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Convert(%v) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDatapoint_ConvertTimestamp(t *testing.T) {
	dp := Datapoint{Format: FormatTimestamp}
	got, ok := dp.Convert(float64(1700000000.5))
	if !ok {
		t.Fatal("Convert() failed")
	}
	want := time.Unix(1700000000, 500000000).UTC()
	if !got.(time.Time).Equal(want) {
		t.Errorf("Convert() = %v, want %v", got, want)
	}
	if got.(time.Time).Location() != time.UTC {
		t.Error("timestamp should be UTC")
	}
}

func TestLookupPath(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{
			"list": []any{
				map[string]any{"v": "first"},
				map[string]any{"v": "last"},
			},
		},
		"nil": nil,
	}

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"a.list[0].v", "first", true},
		{"a.list[-1].v", "last", true},
		{"a.list[2].v", nil, false},
		{"a.missing", nil, false},
		{"a.list.v", nil, false},
		{"nil", nil, false},
		{"a.list[x]", nil, false},
		{"a.list[0", nil, false},
		{"", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := lookupPath(root, tt.path)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("lookupPath(%q) = %v, %v; want %v, %v", tt.path, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCreateID(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"smartwater", "Rain Tank", "water_level"}, "smartwater_rain_tank_water_level"},
		{[]string{"smartwater", "Tank #2 (Shed)", "status"}, "smartwater_tank_2_shed_status"},
		{[]string{"", "abc-DEF", ""}, "abc-def"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := CreateID(tt.parts...); got != tt.want {
				t.Errorf("CreateID(%v) = %q, want %q", tt.parts, got, tt.want)
			}
		})
	}
}

func TestEntitiesAndStates(t *testing.T) {
	dev := NewRecord(FamilyDevice, "dev-1", tankPayload(), nil)
	entities := Entities(dev)

	byKey := make(map[string]Entity)
	for _, e := range entities {
		byKey[e.Key] = e
	}

	wl, ok := byKey["water_level"]
	if !ok {
		t.Fatal("water_level entity missing")
	}
	if wl.UniqueID != "smartwater_rain_tank_water_level" || wl.ObjectID != "smartwater_dev-1_water_level" {
		t.Errorf("ids = %q / %q", wl.UniqueID, wl.ObjectID)
	}
	if !wl.EnabledDefault || wl.Platform != PlatformSensor {
		t.Errorf("water_level entity = %+v", wl)
	}
	if e := byKey["device_voltage"]; e.EnabledDefault || e.Category != CategoryDiagnostic {
		t.Errorf("device_voltage entity = %+v", e)
	}
	if _, ok := byKey["station_rssi"]; ok {
		t.Error("datapoints without platform must not produce entities")
	}

	states := States(DeviceSet{"dev-1": dev})
	if len(states) != len(entities) {
		t.Fatalf("States() = %d entries, want %d", len(states), len(entities))
	}
	for _, s := range states {
		if s.Key == "water_level" && (!s.Available || s.Value != int64(50)) {
			t.Errorf("water_level state = %+v", s)
		}
		if s.Key == "battery_level" && s.Available {
			t.Errorf("battery_level should be unavailable: %+v", s)
		}
	}
}
