package desktop

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyIface   = "org.freedesktop.Notifications"
)

// connectSessionBus is the default backend: the freedesktop notification
// service on the session bus. A reachable service counts as granted
// permission; anything else is denied (no re-prompt).
func connectSessionBus(appName string) ConnectFunc {
	return func(events chan<- Event) (Sender, Permission, error) {
		conn, err := dbus.SessionBus()
		if err != nil {
			return nil, PermissionDenied, fmt.Errorf("session bus: %w", err)
		}
		obj := conn.Object(notifyService, notifyPath)

		// Probe once; this is the platform's "ask permission" moment.
		var name, vendor, version, specVersion string
		call := obj.Call(notifyIface+".GetServerInformation", 0)
		if err := call.Store(&name, &vendor, &version, &specVersion); err != nil {
			return nil, PermissionDenied, fmt.Errorf("probe notification service: %w", err)
		}

		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(notifyPath),
			dbus.WithMatchInterface(notifyIface),
		); err != nil {
			return nil, PermissionDenied, fmt.Errorf("subscribe notification signals: %w", err)
		}

		sig := make(chan *dbus.Signal, 32)
		conn.Signal(sig)
		go func() {
			for s := range sig {
				var ev Event
				switch s.Name {
				case notifyIface + ".ActionInvoked":
					if len(s.Body) != 2 {
						continue
					}
					id, _ := s.Body[0].(uint32)
					key, _ := s.Body[1].(string)
					ev = Event{ServerID: id, Action: key}
				case notifyIface + ".NotificationClosed":
					if len(s.Body) < 1 {
						continue
					}
					id, _ := s.Body[0].(uint32)
					ev = Event{ServerID: id, Closed: true}
				default:
					continue
				}
				select {
				case events <- ev:
				default:
					// Dispatcher is gone or saturated; drop.
				}
			}
		}()

		return &busSender{appName: appName, obj: obj}, PermissionGranted, nil
	}
}

type busSender struct {
	appName string
	obj     dbus.BusObject
}

func (s *busSender) Notify(r Request) (uint32, error) {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(r.Urgency),
	}
	if r.Resident {
		hints["resident"] = dbus.MakeVariant(true)
	}

	// Expiry is always 0 (never): the dispatcher owns the auto-close timer so
	// it can be cancelled on disposal.
	var id uint32
	err := s.obj.Call(notifyIface+".Notify", 0,
		s.appName, r.ReplacesID, "", r.Summary, r.Body,
		r.Actions, hints, int32(0),
	).Store(&id)
	if err != nil {
		return 0, fmt.Errorf("notify: %w", err)
	}
	return id, nil
}

func (s *busSender) CloseNotification(serverID uint32) error {
	return s.obj.Call(notifyIface+".CloseNotification", 0, serverID).Err
}
