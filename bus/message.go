// Package bus carries status and command messages between the agent and the sessions it controls.
package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const forceLogoutDirective = "force-logout"

// Status is a session's view of connectivity and authentication.
type Status struct {
	Online   bool `json:"online"`
	LoggedIn bool `json:"loggedIn"`
}

// Message is a single bus message. On the wire it is either an object
// ({"statusUpdate":{...}} or {"requestStatusUpdate":true}) or the bare
// string "force-logout".
type Message struct {
	StatusUpdate        *Status `json:"statusUpdate,omitempty"`
	RequestStatusUpdate bool    `json:"requestStatusUpdate,omitempty"`
	ForceLogout         bool    `json:"-"`
}

func StatusUpdate(s Status) Message {
	return Message{StatusUpdate: &s}
}

func RequestStatusUpdate() Message {
	return Message{RequestStatusUpdate: true}
}

func ForceLogout() Message {
	return Message{ForceLogout: true}
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.ForceLogout {
		return json.Marshal(forceLogoutDirective)
	}
	type object Message
	return json.Marshal(object(m))
}

func (m *Message) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var directive string
		if err := json.Unmarshal(data, &directive); err != nil {
			return err
		}
		if directive != forceLogoutDirective {
			return fmt.Errorf("unknown directive %q", directive)
		}
		*m = ForceLogout()
		return nil
	}
	type object Message
	var o object
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	*m = Message(o)
	return nil
}

func (m Message) String() string {
	switch {
	case m.ForceLogout:
		return forceLogoutDirective
	case m.StatusUpdate != nil:
		return fmt.Sprintf("statusUpdate(online=%t, loggedIn=%t)", m.StatusUpdate.Online, m.StatusUpdate.LoggedIn)
	case m.RequestStatusUpdate:
		return "requestStatusUpdate"
	}
	return "empty"
}
