// NOTE: This file houses the request/response envelope exchanged with the
// swap venue over the websocket transport.

package dealerjson

import (
	"encoding/json"
	"fmt"
)

// Venue method names. Requests carry an id and expect a tagged response;
// notifications are pushed by the venue without an id.
const (
	MethodLoginDealer = "login_dealer"
	MethodAssets      = "assets"
	MethodMatchQuote  = "match_quote"
	MethodSwap        = "swap"

	MethodRfqCreated = "rfq_created"
	MethodRfqRemoved = "rfq_removed"
	MethodSwapNtfn   = "swap_ntfn"
)

// RequestMessage is the envelope for a tagged request sent to the venue.
type RequestMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseMessage is the envelope for everything received from the venue.
// A message with a non-nil ID is a reply to a previously issued request;
// a message without an ID is a notification.
type ResponseMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// IsNotification reports whether the message is a venue push rather than a
// reply to a request issued by this client.
func (m *ResponseMessage) IsNotification() bool {
	return m.ID == nil
}

// MarshalRequest builds the wire form of a tagged request for the given
// method and command struct.
func MarshalRequest(id int64, method string, cmd interface{}) ([]byte, error) {
	var params json.RawMessage
	if cmd != nil {
		var err error
		params, err = json.Marshal(cmd)
		if err != nil {
			return nil, err
		}
	}
	msg := RequestMessage{
		ID:     &id,
		Method: method,
		Params: params,
	}
	return json.Marshal(&msg)
}

// UnmarshalNotification converts the params of a notification message into
// the typed notification struct registered for its method. Unknown methods
// are rejected so that new venue pushes cannot be silently dropped by
// accident in the caller.
func UnmarshalNotification(msg *ResponseMessage) (interface{}, error) {
	switch msg.Method {
	case MethodRfqCreated:
		var ntfn RfqCreatedNtfn
		if err := json.Unmarshal(msg.Params, &ntfn); err != nil {
			return nil, err
		}
		return &ntfn, nil

	case MethodRfqRemoved:
		var ntfn RfqRemovedNtfn
		if err := json.Unmarshal(msg.Params, &ntfn); err != nil {
			return nil, err
		}
		return &ntfn, nil

	case MethodSwapNtfn:
		var ntfn SwapNtfn
		if err := json.Unmarshal(msg.Params, &ntfn); err != nil {
			return nil, err
		}
		return &ntfn, nil
	}

	return nil, fmt.Errorf("unknown notification method %q", msg.Method)
}
