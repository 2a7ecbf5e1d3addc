package smartwater

import (
	"strconv"
	"strings"
)

// Platform is the entity platform a datapoint is exposed on.
type Platform string

const (
	PlatformNone         Platform = ""
	PlatformSensor       Platform = "sen"
	PlatformBinarySensor Platform = "bin"
)

// Format describes how a raw payload value is converted.
//
//	s   string
//	b   boolean (true/1/"1" and false/0/"0")
//	i   integer
//	t   unix timestamp in seconds, converted to UTC time
//	e   enumeration, looked up in Options
//	fN  float rounded to N decimals (N in 1..4)
type Format string

const (
	FormatString    Format = "s"
	FormatBool      Format = "b"
	FormatInt       Format = "i"
	FormatTimestamp Format = "t"
	FormatEnum      Format = "e"
	FormatFloat1    Format = "f1"
	FormatFloat2    Format = "f2"
	FormatFloat3    Format = "f3"
	FormatFloat4    Format = "f4"
)

// Entity categories taken from the flags column.
const (
	CategoryNone       = ""
	CategoryDiagnostic = "diag"
	CategoryConfig     = "conf"
)

// Datapoint declares where a value lives in a payload and how to present it.
type Datapoint struct {
	// Family is matched as a prefix of the record family sub; "" matches all.
	Family   string
	Key      string
	Name     string
	Platform Platform
	// Flags is "<e|d>,<none|diag|conf>": enabled by default, entity category.
	Flags   string
	Path    string
	Format  Format
	Unit    string
	Options map[string]string
}

// EnabledDefault reports whether an entity for this datapoint starts enabled.
func (d Datapoint) EnabledDefault() bool {
	enabled, _, _ := strings.Cut(d.Flags, ",")
	return strings.TrimSpace(enabled) != "d"
}

// Category returns the entity category, or CategoryNone.
func (d Datapoint) Category() string {
	_, category, _ := strings.Cut(d.Flags, ",")
	switch strings.ToLower(strings.TrimSpace(category)) {
	case CategoryDiagnostic:
		return CategoryDiagnostic
	case CategoryConfig:
		return CategoryConfig
	default:
		return CategoryNone
	}
}

// Precision returns the number of decimals for float formats, or -1.
func (d Datapoint) Precision() int {
	if !strings.HasPrefix(string(d.Format), "f") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(d.Format), "f"))
	if err != nil {
		return -1
	}
	return n
}

// Computed reports whether the datapoint is derived by a function rather
// than read from a path.
func (d Datapoint) Computed() bool {
	return strings.HasPrefix(d.Path, "#")
}

// TrendLevelOptions maps the tank trend level onto a direction label.
var TrendLevelOptions = map[string]string{
	"0": "flat",
	"1": "up", "2": "up", "3": "up", "4": "up", "5": "up",
	"-1": "down", "-2": "down", "-3": "down", "-4": "down", "-5": "down",
}

// Datapoints is the ordered datapoint table. Resolve returns the first
// entry whose family prefixes the record family sub, so more specific
// entries must precede general ones for the same key.
var Datapoints = []Datapoint{
	// Shared over all families
	{Family: "", Key: KeyName, Name: "Name", Path: "name", Format: FormatString},
	{Family: "", Key: KeyType, Name: "Type", Path: "type", Format: FormatString},

	// Profile
	{Family: "pr", Key: "account_type", Name: "Account Type", Path: "accountConfig.type", Format: FormatString},

	// Gateway
	{Family: "gw", Key: "can_edit", Name: "Can Edit", Path: "#canEdit", Format: FormatBool},
	{Family: "gw", Key: "enabled", Name: "Enabled", Path: "#enabled", Format: FormatBool},
	{Family: "gw", Key: "status", Name: "Status", Platform: PlatformSensor, Flags: "e,none", Path: "status", Format: FormatString},
	{Family: "gw", Key: "alert_any", Name: "Any Alerts", Platform: PlatformBinarySensor, Flags: "e,none", Path: "anyAlerts", Format: FormatBool},
	{Family: "gw", Key: "signal", Name: "Signal", Platform: PlatformSensor, Flags: "e,none", Path: "signalStrength", Format: FormatInt, Unit: "dB"},
	{Family: "gw", Key: "address", Name: "Location Address", Platform: PlatformSensor, Flags: "d,diag", Path: "location.address", Format: FormatString},
	{Family: "gw", Key: "postcode", Name: "Location Postcode", Platform: PlatformSensor, Flags: "d,diag", Path: "location.postcode", Format: FormatString},
	{Family: "gw", Key: "suburb", Name: "Location Suburb", Platform: PlatformSensor, Flags: "d,diag", Path: "location.suburb", Format: FormatString},
	{Family: "gw", Key: "city", Name: "Location City", Platform: PlatformSensor, Flags: "d,diag", Path: "location.city", Format: FormatString},
	{Family: "gw", Key: "country", Name: "Location Country", Platform: PlatformSensor, Flags: "d,diag", Path: "location.country", Format: FormatString},
	{Family: "gw", Key: "longitude", Name: "Location Longitude", Platform: PlatformSensor, Flags: "d,diag", Path: "location.lng", Format: FormatFloat4},
	{Family: "gw", Key: "latitude", Name: "Location Latitude", Platform: PlatformSensor, Flags: "d,diag", Path: "location.lat", Format: FormatFloat4},
	{Family: "gw", Key: "use_v2_resync", Name: "Use V2 Resync", Flags: "d,diag", Path: "useV2Resync", Format: FormatBool},

	// Device, generic
	{Family: "d", Key: KeySerial, Name: "Serial", Path: "serialNumber", Format: FormatString},
	{Family: "d", Key: KeyVersion, Name: "Version", Path: "version", Format: FormatString},
	{Family: "d", Key: KeyGatewayID, Name: "Gateway Id", Path: "gatewayId", Format: FormatString},
	{Family: "d", Key: "status", Name: "Status", Platform: PlatformSensor, Flags: "e,none", Path: "status", Format: FormatString},
	{Family: "d", Key: "alert_any", Name: "Any Alerts", Platform: PlatformBinarySensor, Flags: "e,none", Path: "anyAlerts", Format: FormatBool},

	// Tank
	{Family: "d.tank", Key: "water_level", Name: "Water Level", Platform: PlatformSensor, Flags: "e,none", Path: "waterLevel", Format: FormatInt, Unit: "%"},
	{Family: "d.tank", Key: "water_height", Name: "Water Height", Platform: PlatformSensor, Flags: "e,none", Path: "#waterHeight", Format: FormatFloat1, Unit: "m"},
	{Family: "d.tank", Key: "trend_level", Name: "Trend Level", Platform: PlatformSensor, Flags: "e,none", Path: "trendLevel", Format: FormatEnum, Options: TrendLevelOptions},
	{Family: "d.tank", Key: "days_remaining", Name: "Days remaining", Platform: PlatformSensor, Flags: "e,none", Path: "daysRemaining", Format: FormatInt, Unit: "d"},
	{Family: "d.tank", Key: "avg_daily_use", Name: "Avg Daily Use", Platform: PlatformSensor, Flags: "e,none", Path: "avgDailyUse", Format: FormatFloat2, Unit: "%"},
	{Family: "d.tank", Key: "battery_level", Name: "Battery Level", Platform: PlatformSensor, Flags: "e,diag", Path: "batteryLevel", Format: FormatInt, Unit: "%"},
	{Family: "d.tank", Key: "alert_level_low", Name: "Low Level Alert", Platform: PlatformBinarySensor, Flags: "e,diag", Path: "alerts.lowLevelAlert", Format: FormatBool},
	{Family: "d.tank", Key: "alert_level_high", Name: "High Level Alert", Platform: PlatformBinarySensor, Flags: "e,diag", Path: "alerts.highLevelAlert", Format: FormatBool},
	{Family: "d.tank", Key: "alert_days_low", Name: "Days Remaining Alert", Platform: PlatformBinarySensor, Flags: "e,diag", Path: "alerts.daysRemainingLow", Format: FormatBool},
	{Family: "d.tank", Key: "alert_battery_low", Name: "Battery Low Alert", Platform: PlatformBinarySensor, Flags: "e,diag", Path: "alerts.batteryLow", Format: FormatBool},
	{Family: "d.tank", Key: "alert_filter", Name: "Filter Alert", Platform: PlatformBinarySensor, Flags: "e,diag", Path: "alerts.filter", Format: FormatBool},
	{Family: "d.tank", Key: "alert_clean_tank", Name: "Clean Tank Alert", Platform: PlatformBinarySensor, Flags: "e,diag", Path: "alerts.cleanTank", Format: FormatBool},
	{Family: "d.tank", Key: "alert_usage", Name: "Abnormal Usage Alert", Platform: PlatformBinarySensor, Flags: "e,diag", Path: "alerts.usageAbnormal", Format: FormatBool},
	{Family: "d.tank", Key: "device_number", Name: "Device Number", Platform: PlatformSensor, Flags: "d,diag", Path: "deviceNumber", Format: FormatString},
	{Family: "d.tank", Key: "aux_power", Name: "Aux Power", Platform: PlatformBinarySensor, Flags: "d,diag", Path: "auxPower", Format: FormatBool},
	{Family: "d.tank", Key: "device_voltage", Name: "Device Voltage", Platform: PlatformSensor, Flags: "d,diag", Path: "devVoltage", Format: FormatFloat2, Unit: "V"},
	{Family: "d.tank", Key: "sensor_status", Name: "Sensor Status", Platform: PlatformSensor, Flags: "d,diag", Path: "sensorStatus", Format: FormatInt, Unit: "%"},
	{Family: "d.tank", Key: "last_report", Name: "Last Report", Platform: PlatformSensor, Flags: "d,diag", Path: "lastReport", Format: FormatTimestamp},
	{Family: "d.tank", Key: "last_modified", Name: "Last Modified", Platform: PlatformSensor, Flags: "d,diag", Path: "lastModified", Format: FormatTimestamp},
	{Family: "d.tank", Key: "alert_not_receiving", Name: "Not Receiving Alert", Platform: PlatformBinarySensor, Flags: "d,diag", Path: "alerts.notReceiving", Format: FormatBool},
	{Family: "d.tank", Key: "alert_not_reporting", Name: "Not Reporting Alert", Platform: PlatformBinarySensor, Flags: "d,diag", Path: "alerts.notReporting", Format: FormatBool},
	{Family: "d.tank", Key: "tank_height", Name: "Tank Height", Platform: PlatformSensor, Flags: "d,diag", Path: "settings.height", Format: FormatFloat1, Unit: "m"},
	{Family: "d.tank", Key: "outflow_height", Name: "Outflow Height", Platform: PlatformSensor, Flags: "d,diag", Path: "settings.outflowHeight", Format: FormatFloat1, Unit: "m"},
	{Family: "d.tank", Key: "replace_filter_at", Name: "Replace Filter At", Platform: PlatformSensor, Flags: "d,diag", Path: "settings.replaceFilterAt", Format: FormatTimestamp},
	{Family: "d.tank", Key: "clean_tank_at", Name: "Clean Tank At", Platform: PlatformSensor, Flags: "d,diag", Path: "settings.cleanTankAt", Format: FormatTimestamp},

	// Tank, internal values not exposed as entities
	{Family: "d.tank", Key: "station_rssi", Name: "Station RSSI", Flags: "d,diag", Path: "stationRSSI", Format: FormatInt, Unit: "dBm"},
	{Family: "d.tank", Key: "device_rssi", Name: "Device RSSI", Flags: "d,diag", Path: "deviceRSSI", Format: FormatInt, Unit: "dBm"},
	{Family: "d.tank", Key: "min_level", Name: "Min Level", Flags: "d,diag", Path: "minLevel", Format: FormatInt},
	{Family: "d.tank", Key: "max_level", Name: "Max Level", Flags: "d,diag", Path: "maxLevel", Format: FormatInt},
	{Family: "d.tank", Key: "days_number", Name: "Days Number", Flags: "d,diag", Path: "daysNumber", Format: FormatInt, Unit: "d"},
	{Family: "d.tank", Key: "delta_percentage", Name: "Delta Percentage", Flags: "d,diag", Path: "deltaPercentage", Format: FormatFloat2, Unit: "%"},
	{Family: "d.tank", Key: "clean_time", Name: "Clean Time", Flags: "d,diag", Path: "settings.cleanTime", Format: FormatInt, Unit: "month"},
	{Family: "d.tank", Key: "filter_time", Name: "Filter Time", Flags: "d,diag", Path: "settings.filterTime", Format: FormatInt, Unit: "month"},
	{Family: "d.tank", Key: "fluid_density", Name: "Fluid Density", Flags: "d,diag", Path: "settings.fluidDensity", Format: FormatFloat2},
	{Family: "d.tank", Key: "adc_value", Name: "Adc Value", Flags: "d,diag", Path: "adcValue", Format: FormatInt},
	{Family: "d.tank", Key: "battery_adc", Name: "Battery Adc", Flags: "d,diag", Path: "batteryADC", Format: FormatInt},
}

// Resolve returns the first datapoint whose family prefixes familySub and
// whose key matches.
func Resolve(familySub, key string) (Datapoint, bool) {
	for _, dp := range Datapoints {
		if dp.Key == key && strings.HasPrefix(familySub, dp.Family) {
			return dp, true
		}
	}
	return Datapoint{}, false
}

// ForPlatform returns, in table order, the datapoints of familySub exposed
// on the given platform. A key shadowed by an earlier entry is skipped.
func ForPlatform(familySub string, platform Platform) []Datapoint {
	if platform == PlatformNone {
		return nil
	}
	var out []Datapoint
	seen := make(map[string]bool)
	for _, dp := range Datapoints {
		if !strings.HasPrefix(familySub, dp.Family) || seen[dp.Key] {
			continue
		}
		seen[dp.Key] = true
		if dp.Platform == platform {
			out = append(out, dp)
		}
	}
	return out
}
