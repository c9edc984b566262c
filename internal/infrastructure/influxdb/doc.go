// Package influxdb records Seedgate activity metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, health checks and two gateway measurements:
//
//   - auth_attempts: one point per authenticate or register attempt,
//     tagged by route and outcome
//   - settings_writes: one point per settings PATCH, tagged by user id,
//     with the entry count and whether all were stored
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordAuthAttempt("authenticate", influxdb.OutcomeFailure)
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are delivered to the SetOnError callback.
// Connection and health check errors are returned directly. All Record
// methods are no-ops on a nil or closed client.
package influxdb
