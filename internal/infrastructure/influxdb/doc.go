// Package influxdb mirrors decoded KNX telegrams into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring. A
// connected *Client satisfies persist.Mirror.
//
// # Data model
//
// Every telegram with a value becomes one point in the "knx" measurement:
//
//	knx,ga=5/0/2,dpt=9.001,family=9,name=EG-Temperatur-Küche value=21.7 <ts>
//
// The point timestamp is the bus receive time, not the write time.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("influxdb write failed", "error", err) })
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered to the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
