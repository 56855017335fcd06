package protocol

// Command identifiers.
// The ID space is fixed: adding a command means adding a constant here and an
// entry to messageTypes, nothing is registered at runtime.
const (
	CommandHeartbeatRequest      byte = 1
	CommandHeartbeatResponse     byte = 2
	CommandRunMethodRequest      byte = 3
	CommandRunMethodResponse     byte = 4
	CommandServerCloseRequest    byte = 5
	CommandClearResultRequest    byte = 7
	CommandRunScriptRequest      byte = 8
	CommandRunScriptResponse     byte = 9
	CommandLocalDeployRequest    byte = 10
	CommandRemoteDeployRequest   byte = 11
	CommandDeployResponse        byte = 12
	CommandChangeTraceRequest    byte = 13
	CommandResourceDeployRequest byte = 14
)

// messageTypes maps a command ID to a constructor for the message variant
// carrying that command. Built once; read-only afterwards.
var messageTypes = map[byte]func() Message{
	CommandHeartbeatRequest:      func() Message { return &HeartbeatRequest{} },
	CommandHeartbeatResponse:     func() Message { return &HeartbeatResponse{} },
	CommandRunMethodRequest:      func() Message { return &RunMethodRequest{} },
	CommandRunMethodResponse:     func() Message { return &RunMethodResponse{} },
	CommandServerCloseRequest:    func() Message { return &ServerCloseRequest{} },
	CommandClearResultRequest:    func() Message { return &ClearResultRequest{} },
	CommandRunScriptRequest:      func() Message { return &RunScriptRequest{} },
	CommandRunScriptResponse:     func() Message { return &RunScriptResponse{} },
	CommandLocalDeployRequest:    func() Message { return &LocalDeployRequest{} },
	CommandRemoteDeployRequest:   func() Message { return &RemoteDeployRequest{} },
	CommandDeployResponse:        func() Message { return &DeployResponse{} },
	CommandChangeTraceRequest:    func() Message { return &ChangeTraceRequest{} },
	CommandResourceDeployRequest: func() Message { return &ResourceDeployRequest{} },
}

// NewMessage returns a zero message for the given command ID, or false if the
// command is not part of the protocol.
func NewMessage(command byte) (Message, bool) {
	ctor, ok := messageTypes[command]
	if !ok {
		return nil, false
	}
	return ctor(), true
}
