package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Separators used in the bulk-body header table.
const (
	entrySeparator = ";;"
	fieldSeparator = "::"
)

// bulkBody is the shared body layout of the three deploy request variants:
//
//	identityLen(4) identity(N) headerLen(4) header(N) content...
//
// where header is a text table "path::length;;path::length;;..." and the raw
// contents follow in header order. Identity names the code domain (class
// loader) the batch targets.
type bulkBody struct {
	// Identity is the class-domain tag, e.g. "LaunchedURLClassLoader@5a07e868".
	Identity string

	// Contents maps a class or resource path to its replacement bytes.
	Contents map[string][]byte
}

func (b *bulkBody) marshal() ([]byte, error) {
	buf := &bytes.Buffer{}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b.Identity)))
	buf.Write(lenBuf[:])
	buf.WriteString(b.Identity)

	// Header and contents are built in one pass so their orders agree.
	header := &strings.Builder{}
	content := &bytes.Buffer{}
	for path, data := range b.Contents {
		header.WriteString(path)
		header.WriteString(fieldSeparator)
		header.WriteString(strconv.Itoa(len(data)))
		header.WriteString(entrySeparator)
		content.Write(data)
	}

	binary.BigEndian.PutUint32(lenBuf[:], uint32(header.Len()))
	buf.Write(lenBuf[:])
	buf.WriteString(header.String())
	buf.Write(content.Bytes())

	return buf.Bytes(), nil
}

func (b *bulkBody) unmarshal(data []byte) error {
	r := bytes.NewReader(data)

	identity, err := readLengthPrefixed(r)
	if err != nil {
		return fmt.Errorf("reading identity: %w", err)
	}
	b.Identity = string(identity)

	header, err := readLengthPrefixed(r)
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	b.Contents = map[string][]byte{}
	for _, entry := range strings.Split(string(header), entrySeparator) {
		fields := strings.Split(entry, fieldSeparator)
		if len(fields) != 2 {
			// Tolerated: the trailing separator produces an empty entry, and
			// a malformed entry must not fail the whole batch.
			continue
		}
		length, err := strconv.Atoi(fields[1])
		if err != nil || length < 0 {
			continue
		}
		content := make([]byte, length)
		if _, err := io.ReadFull(r, content); err != nil {
			return fmt.Errorf("reading %d content bytes for %q: %w", length, fields[0], err)
		}
		b.Contents[fields[0]] = content
	}
	return nil
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if uint32(r.Len()) < n {
		return nil, fmt.Errorf("truncated field: want %d bytes, have %d", n, r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// LocalDeployRequest carries class files compiled on the client side, ready
// for redefinition.
type LocalDeployRequest struct {
	bulkBody
}

func (*LocalDeployRequest) Command() byte { return CommandLocalDeployRequest }

func (p *LocalDeployRequest) MarshalBody() ([]byte, error) { return p.marshal() }

func (p *LocalDeployRequest) UnmarshalBody(b []byte) error { return p.unmarshal(b) }

// Add records one class path with its compiled bytes.
func (p *LocalDeployRequest) Add(path string, content []byte) {
	if p.Contents == nil {
		p.Contents = map[string][]byte{}
	}
	p.Contents[path] = content
}

// RemoteDeployRequest carries source files to be compiled on the agent side
// before redefinition.
type RemoteDeployRequest struct {
	bulkBody
}

func (*RemoteDeployRequest) Command() byte { return CommandRemoteDeployRequest }

func (p *RemoteDeployRequest) MarshalBody() ([]byte, error) { return p.marshal() }

func (p *RemoteDeployRequest) UnmarshalBody(b []byte) error { return p.unmarshal(b) }

// Add records one source path with its source bytes.
func (p *RemoteDeployRequest) Add(path string, content []byte) {
	if p.Contents == nil {
		p.Contents = map[string][]byte{}
	}
	p.Contents[path] = content
}

// ResourceDeployRequest carries non-class resource files. Resources are only
// staged to disk; nothing is redefined in the running process.
type ResourceDeployRequest struct {
	bulkBody
}

func (*ResourceDeployRequest) Command() byte { return CommandResourceDeployRequest }

func (p *ResourceDeployRequest) MarshalBody() ([]byte, error) { return p.marshal() }

func (p *ResourceDeployRequest) UnmarshalBody(b []byte) error { return p.unmarshal(b) }

// Add records one resource path with its content bytes.
func (p *ResourceDeployRequest) Add(path string, content []byte) {
	if p.Contents == nil {
		p.Contents = map[string][]byte{}
	}
	p.Contents[path] = content
}

// DeployResponse is the single terminal response to any deploy request.
// Success or failure is carried by the frame's result flag.
type DeployResponse struct {
	// Text is a human-readable outcome, including the affected paths and,
	// on success, the elapsed processing time.
	Text string `json:"text"`

	// ApplicationName tags which application handled the request.
	ApplicationName string `json:"applicationName"`
}

func (*DeployResponse) Command() byte { return CommandDeployResponse }

func (p *DeployResponse) MarshalBody() ([]byte, error) { return json.Marshal(p) }

func (p *DeployResponse) UnmarshalBody(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, p)
}
