// Package events is the in-process event bus of the auth core.
//
// The auth manager fires user lifecycle and login events on a Bus; audit,
// telemetry and the MQTT forwarder subscribe to them.
//
//	bus := events.NewBus(events.WithLogger(log))
//	stop := bus.Subscribe("user_added", func(ctx context.Context, ev events.Event) {
//	    log.Info("user added", "user_id", ev.Data["user_id"])
//	})
//	defer stop()
package events
