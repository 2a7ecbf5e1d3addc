// Package influxdb records the history of Smart Water datapoint values.
//
// Every numeric or boolean entity value published by a coordinator is
// written as one point of the smartwater_datapoint measurement, tagged with
// profile, device and key. Writes go through the non-blocking, batched write
// API of influxdb-client-go; failures surface asynchronously through the
// callback set with SetOnError.
//
// History is optional: Connect returns ErrDisabled when the influxdb section
// of the configuration is not enabled.
package influxdb
