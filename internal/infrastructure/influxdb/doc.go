// Package influxdb records service-call telemetry in InfluxDB v2.
//
// A connected Client is a service.Observer: every completed call becomes a
// point in the service_calls measurement, tagged with domain, service,
// status and source, with duration_ms and blocking as fields.
//
// Writes go through the non-blocking batched write API (batch_size,
// flush_interval). Write failures surface asynchronously via SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	registry.AddObserver(client)
//
// InfluxDB is optional. Connect returns ErrDisabled when it is turned off.
package influxdb
