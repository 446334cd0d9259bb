// Package influxdb writes auth activity to InfluxDB as time series.
//
// It wraps the influxdb-client-go v2 non-blocking write API. Every
// finished login flow becomes one point in the auth_login measurement,
// tagged by provider and result, so failed logins can be graphed and
// alerted on next to the rest of the hub's telemetry.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	stop := influxdb.SubscribeLoginAttempts(bus, client)
//	defer stop()
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval; write failures are reported through the
// SetOnError callback.
package influxdb
