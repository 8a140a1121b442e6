// Package influxdb exports bridge telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go's non-blocking write API. Each refresh cycle
// writes one "climate" point per device with the projected temperatures,
// power and energy, plus one "bridge_cycle" summary point. Commands are
// written as "command" points tagged with their outcome.
//
// The integration is optional. Connect returns ErrDisabled when
// influxdb.enabled is false and callers keep a nil *Client, whose write
// methods are no-ops.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    client = nil
//	} else if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) {
//	    logger.Warn("influxdb write failed", "error", err)
//	})
package influxdb
