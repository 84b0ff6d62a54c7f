package wa

import (
	"context"
	"time"

	"github.com/lfcamargo/atendo/internal/bus"
)

// AuthEventType enumerates auth lifecycle events.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent is one step of the pairing flow.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// StartQRAuth begins the QR pairing flow. The returned channel emits a
// fresh QR code every rotation and closes once pairing succeeds or
// fails; the same milestones are mirrored on the bus as session events.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)
	go func() {
		defer close(out)

		// Connect must follow GetQRChannel.
		if err := a.Connect(); err != nil {
			a.emitAuth(out, AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
			return
		}

		for item := range qrChan {
			switch item.Event {
			case "code":
				a.emitAuth(out, AuthEvent{Type: AuthEventQRCode, QRCode: item.Code})
			case "success":
				a.emitAuth(out, AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"})
				return
			case "timeout":
				a.emitAuth(out, AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"})
				return
			default:
				if item.Error != nil {
					a.emitAuth(out, AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()})
					return
				}
			}
		}
	}()

	return out, nil
}

func (a *Adapter) emitAuth(out chan<- AuthEvent, evt AuthEvent) {
	out <- evt

	kind := "session.auth_failed"
	var payload any = evt.Message
	switch evt.Type {
	case AuthEventQRCode:
		kind = "session.qr_generated"
		payload = evt.QRCode
	case AuthEventAuthenticated:
		kind = "session.authenticated"
		payload = nil
	case AuthEventTimeout:
		payload = "timeout"
	}
	a.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
