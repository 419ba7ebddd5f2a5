package offlineagent

import (
	"context"
	"errors"
	"testing"

	"github.com/always-cache/offline-agent/bus"
)

func TestStatusStateDefaults(t *testing.T) {
	s := NewStatusState()
	if got := s.Snapshot(); got != (Status{Online: true, LoggedIn: false}) {
		t.Fatalf("Default status is %+v", got)
	}
}

func TestControlledStatusUpdateReplaces(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	from := &fakeSession{controlled: true}

	ta.HandleMessage(context.Background(), from, bus.StatusUpdate(Status{Online: false, LoggedIn: true}))

	if got := ta.Status().Snapshot(); got != (Status{Online: false, LoggedIn: true}) {
		t.Fatalf("Status is %+v", got)
	}
}

func TestUncontrolledStatusUpdateCannotLogIn(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	from := &fakeSession{controlled: false}

	ta.HandleMessage(context.Background(), from, bus.StatusUpdate(Status{Online: false, LoggedIn: true}))
	if got := ta.Status().Snapshot(); got != (Status{Online: false, LoggedIn: false}) {
		t.Fatalf("Status is %+v", got)
	}

	ta.setStatus(true, true)
	ta.HandleMessage(context.Background(), from, bus.StatusUpdate(Status{Online: true, LoggedIn: false}))
	if got := ta.Status().Snapshot(); got.LoggedIn {
		t.Fatal("Uncontrolled session could not log out")
	}
}

func TestRequestStatusUpdateReplies(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	ta.setStatus(false, true)
	from := &fakeSession{controlled: true}

	ta.HandleMessage(context.Background(), from, bus.RequestStatusUpdate())

	if len(from.replies) != 1 || from.replies[0].StatusUpdate == nil {
		t.Fatalf("Replies are %v", from.replies)
	}
	if got := *from.replies[0].StatusUpdate; got != (Status{Online: false, LoggedIn: true}) {
		t.Fatalf("Replied status is %+v", got)
	}
	if len(ta.bus.messages()) != 0 {
		t.Fatal("Reply was broadcast")
	}
}

func TestRequestStatusUpdateBroadcastsWithoutReplyChannel(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	from := &fakeSession{sendErr: errors.New("closed")}

	ta.HandleMessage(context.Background(), from, bus.RequestStatusUpdate())

	messages := ta.bus.messages()
	if len(messages) != 1 || messages[0].msg.StatusUpdate == nil {
		t.Fatalf("Broadcast %v", messages)
	}
}

func TestInboundForceLogoutIsIgnored(t *testing.T) {
	ta := newTestAgent(t, siteHandler)
	ta.setStatus(true, true)

	ta.HandleMessage(context.Background(), &fakeSession{controlled: true}, bus.ForceLogout())

	if !ta.Status().Snapshot().LoggedIn {
		t.Fatal("Inbound force-logout changed the status")
	}
}
