package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	MeasurementAuthAttempts   = "auth_attempts"
	MeasurementSettingsWrites = "settings_writes"
)

// Authentication outcomes used as the "outcome" tag.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RecordAuthAttempt writes one authentication attempt. route is the gateway
// route that handled it (authenticate or register).
//
// Usernames are not tagged so that failed logins for made-up names do not
// grow series cardinality.
func (c *Client) RecordAuthAttempt(route, outcome string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authAttemptPoint(route, outcome, time.Now()))
}

// RecordSettingsWrite writes one settings PATCH: how many entries it carried
// and whether all of them were stored.
func (c *Client) RecordSettingsWrite(userID string, entries int, succeeded bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(settingsWritePoint(userID, entries, succeeded, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func authAttemptPoint(route, outcome string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAuthAttempts,
		map[string]string{
			"route":   route,
			"outcome": outcome,
		},
		map[string]any{
			"count": 1,
		},
		at,
	)
}

func settingsWritePoint(userID string, entries int, succeeded bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSettingsWrites,
		map[string]string{
			"user_id": userID,
		},
		map[string]any{
			"entries":   entries,
			"succeeded": succeeded,
		},
		at,
	)
}
