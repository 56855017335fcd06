package protocol

import "encoding/json"

// jsonBody marshals/unmarshals a message as a UTF-8 JSON body. An empty body
// leaves the message zero-valued rather than failing, matching the tolerance
// the wire requires for empty payloads.
func jsonMarshal(v any) ([]byte, error) { return json.Marshal(v) }

func jsonUnmarshal(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// RunMethodRequest asks the agent to invoke one method in the target process
// and cache its result for later inspection.
type RunMethodRequest struct {
	// Identity selects the code domain the class is resolved in.
	Identity string `json:"identity"`

	ClassName  string            `json:"className"`
	MethodName string            `json:"methodName"`
	Args       map[string]string `json:"args,omitempty"`

	// TraceEnabled asks for a call-tree trace of the invocation.
	TraceEnabled bool `json:"traceEnabled,omitempty"`
}

func (*RunMethodRequest) Command() byte { return CommandRunMethodRequest }

func (p *RunMethodRequest) MarshalBody() ([]byte, error) { return jsonMarshal(p) }

func (p *RunMethodRequest) UnmarshalBody(b []byte) error { return jsonUnmarshal(b, p) }

// RunMethodResponse reports a method invocation outcome. OffsetPath keys the
// cached result so the tool can fetch details over the admin surface.
type RunMethodResponse struct {
	OffsetPath      string `json:"offsetPath,omitempty"`
	TraceOffsetPath string `json:"traceOffsetPath,omitempty"`
	PrintResult     string `json:"printResult,omitempty"`
	ThrowMessage    string `json:"throwMessage,omitempty"`
	ApplicationName string `json:"applicationName"`
}

func (*RunMethodResponse) Command() byte { return CommandRunMethodResponse }

func (p *RunMethodResponse) MarshalBody() ([]byte, error) { return jsonMarshal(p) }

func (p *RunMethodResponse) UnmarshalBody(b []byte) error { return jsonUnmarshal(b, p) }

// RunScriptRequest asks the agent to evaluate a script inside the target
// process.
type RunScriptRequest struct {
	Identity string `json:"identity"`
	Script   string `json:"script"`
}

func (*RunScriptRequest) Command() byte { return CommandRunScriptRequest }

func (p *RunScriptRequest) MarshalBody() ([]byte, error) { return jsonMarshal(p) }

func (p *RunScriptRequest) UnmarshalBody(b []byte) error { return jsonUnmarshal(b, p) }

// RunScriptResponse reports a script evaluation outcome.
type RunScriptResponse struct {
	OffsetPath      string `json:"offsetPath,omitempty"`
	PrintResult     string `json:"printResult,omitempty"`
	ThrowMessage    string `json:"throwMessage,omitempty"`
	ApplicationName string `json:"applicationName"`
}

func (*RunScriptResponse) Command() byte { return CommandRunScriptResponse }

func (p *RunScriptResponse) MarshalBody() ([]byte, error) { return jsonMarshal(p) }

func (p *RunScriptResponse) UnmarshalBody(b []byte) error { return jsonUnmarshal(b, p) }

// ClearResultRequest drops cached run results. Empty offsets mean "nothing to
// clear" for that kind.
type ClearResultRequest struct {
	FieldOffset string `json:"fieldOffset,omitempty"`
	TraceOffset string `json:"traceOffset,omitempty"`
}

func (*ClearResultRequest) Command() byte { return CommandClearResultRequest }

func (p *ClearResultRequest) MarshalBody() ([]byte, error) { return jsonMarshal(p) }

func (p *ClearResultRequest) UnmarshalBody(b []byte) error { return jsonUnmarshal(b, p) }

// ChangeTraceRequest reconfigures method tracing for subsequent invocations.
type ChangeTraceRequest struct {
	Enabled  bool `json:"enabled"`
	MaxDepth int  `json:"maxDepth,omitempty"`
}

func (*ChangeTraceRequest) Command() byte { return CommandChangeTraceRequest }

func (p *ChangeTraceRequest) MarshalBody() ([]byte, error) { return jsonMarshal(p) }

func (p *ChangeTraceRequest) UnmarshalBody(b []byte) error { return jsonUnmarshal(b, p) }
