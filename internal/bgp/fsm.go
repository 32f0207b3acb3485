// Package bgp implements the per-peer finite state machine, the per-AFI
// RIB pipeline, and the instance orchestrator for a BGP-4 speaker
// (RFC 4271). The FSM is structured one state, one handler, a dispatcher
// keyed on the current state, over the full RFC 4271 section 8 event set.
package bgp

import (
	"fmt"

	"go.uber.org/zap"
)

// State is one of the six RFC 4271 session states.
type State uint8

const (
	Idle State = iota
	Connect
	Active
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connect:
		return "Connect"
	case Active:
		return "Active"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// EventKind identifies one of RFC 4271 section 8's FSM events.
type EventKind uint8

const (
	EvConfigUpdate EventKind = iota
	EvStart
	EvStop
	EvConnRetryTimerExpires
	EvHoldTimerExpires
	EvKeepaliveTimerExpires
	EvIdleHoldTimerExpires
	EvConnected
	EvConnFail
	EvBGPOpen
	EvKeepAliveMsg
	EvUpdateMsg
	EvNotifMsg
)

func (e EventKind) String() string {
	names := [...]string{
		"ConfigUpdate", "Start", "Stop", "ConnRetryTimerExpires",
		"HoldTimerExpires", "KeepaliveTimerExpires", "IdleHoldTimerExpires",
		"Connected", "ConnFail", "BGPOpen", "KeepAliveMsg", "UpdateMsg", "NotifMsg",
	}
	if int(e) < len(names) {
		return names[e]
	}
	return fmt.Sprintf("Event(%d)", e)
}

// Event is one input to the FSM, carrying whatever payload the event kind
// needs (an accepted net.Conn for Connected, a decoded message for the
// PDU-shaped events).
type Event struct {
	Kind    EventKind
	Payload any
}

// handle runs one event through the state machine. It is called only from
// the peer's own goroutine, so no locking is needed here; the state
// handlers set p.state and perform the side effects (sending PDUs, arming
// timers) by calling back into p.
func (p *Peer) handle(ev Event) {
	from := p.state
	switch p.state {
	case Idle:
		p.handleIdle(ev)
	case Connect:
		p.handleConnect(ev)
	case Active:
		p.handleActive(ev)
	case OpenSent:
		p.handleOpenSent(ev)
	case OpenConfirm:
		p.handleOpenConfirm(ev)
	case Established:
		p.handleEstablished(ev)
	}
	if p.state != from {
		p.log.Info("fsm transition", zap.String("from", from.String()), zap.String("to", p.state.String()), zap.String("event", ev.Kind.String()))
		if from == Established && p.state != Established {
			p.onLeaveEstablished()
		}
	}
}

func (p *Peer) handleIdle(ev Event) {
	switch ev.Kind {
	case EvStart:
		p.idleHoldTimer.Stop()
		if p.config.Passive {
			p.state = Active
			return
		}
		p.connRetryTimer.Reset()
		p.dialOutbound()
		p.state = Connect
	case EvIdleHoldTimerExpires:
		p.handle(Event{Kind: EvStart})
	}
}

func (p *Peer) handleConnect(ev Event) {
	switch ev.Kind {
	case EvConnected:
		p.acceptTransport(ev.Payload)
		p.connRetryTimer.Stop()
		p.sendOpen()
		p.state = OpenSent
	case EvConnFail, EvConnRetryTimerExpires:
		p.connRetryTimer.Reset()
		p.dialOutbound()
		p.state = Active
	case EvStop:
		p.toIdle("stop requested")
	}
}

func (p *Peer) handleActive(ev Event) {
	switch ev.Kind {
	case EvConnected:
		p.acceptTransport(ev.Payload)
		p.connRetryTimer.Stop()
		p.sendOpen()
		p.state = OpenSent
	case EvConnRetryTimerExpires:
		p.connRetryTimer.Reset()
		if !p.config.Passive {
			p.dialOutbound()
		}
	case EvStop:
		p.toIdle("stop requested")
	}
}

func (p *Peer) handleOpenSent(ev Event) {
	switch ev.Kind {
	case EvConnected:
		// Collision case: keep both, resolved once the second Open arrives
		// or this side's Open is answered.
		p.acceptSecondaryTransport(ev.Payload)
	case EvBGPOpen:
		if err := p.validateAndApplyOpen(ev.Payload); err != nil {
			p.sendNotification(err)
			p.toIdle("open validation failed")
			return
		}
		p.sendKeepalive()
		p.holdTimer.Reset(p.negotiatedHoldTime())
		p.state = OpenConfirm
	case EvNotifMsg, EvConnFail, EvHoldTimerExpires:
		p.toIdle("peer rejected open or connection failed")
	case EvStop:
		p.toIdle("stop requested")
	}
}

func (p *Peer) handleOpenConfirm(ev Event) {
	switch ev.Kind {
	case EvKeepAliveMsg:
		p.holdTimer.Reset(p.negotiatedHoldTime())
		p.onEstablished()
		p.state = Established
	case EvNotifMsg, EvConnFail, EvHoldTimerExpires:
		p.toIdle("peer rejected session during open confirm")
	case EvStop:
		p.toIdle("stop requested")
	}
}

func (p *Peer) handleEstablished(ev Event) {
	switch ev.Kind {
	case EvUpdateMsg:
		p.holdTimer.Reset(p.negotiatedHoldTime())
		p.onUpdate(ev.Payload)
	case EvKeepAliveMsg:
		p.holdTimer.Reset(p.negotiatedHoldTime())
	case EvHoldTimerExpires:
		p.sendNotificationHoldExpired()
		p.toIdle("hold timer expired")
	case EvNotifMsg, EvConnFail:
		p.toIdle("peer closed session")
	case EvStop:
		p.toIdle("stop requested")
	}
}

// toIdle performs the common "return to Idle" side effects: closing the
// transport, arming the idle-hold backoff timer, and setting p.state to
// Idle.
func (p *Peer) toIdle(reason string) {
	p.log.Info("fsm to idle", zap.String("reason", reason))
	p.closeTransport()
	p.idleHoldTimer.Reset()
	p.state = Idle
}
