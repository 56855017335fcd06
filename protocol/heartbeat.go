package protocol

// HeartbeatRequest is a zero-payload liveness probe sent by the client.
type HeartbeatRequest struct{}

func (*HeartbeatRequest) Command() byte                { return CommandHeartbeatRequest }
func (*HeartbeatRequest) MarshalBody() ([]byte, error) { return nil, nil }
func (*HeartbeatRequest) UnmarshalBody([]byte) error   { return nil }

// HeartbeatResponse is the zero-payload reply to a heartbeat, and is also
// written unsolicited by the server as a probe against half-open peers.
type HeartbeatResponse struct{}

func (*HeartbeatResponse) Command() byte                { return CommandHeartbeatResponse }
func (*HeartbeatResponse) MarshalBody() ([]byte, error) { return nil, nil }
func (*HeartbeatResponse) UnmarshalBody([]byte) error   { return nil }

// ServerCloseRequest asks the agent to detach and shut its server down.
type ServerCloseRequest struct{}

func (*ServerCloseRequest) Command() byte                { return CommandServerCloseRequest }
func (*ServerCloseRequest) MarshalBody() ([]byte, error) { return nil, nil }
func (*ServerCloseRequest) UnmarshalBody([]byte) error   { return nil }
