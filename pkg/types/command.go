package types

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// type of FSM command
type CommandType uint

const (
	CommandTypeCreateLease CommandType = iota + 1
	CommandTypeUpdateLease
)

// interface all FSM commands implement
type Command interface {
	Type() CommandType
	Target() *Lease
}

// creates a lease that must not exist yet
type CreateLeaseCommand struct {
	Lease *Lease
}

func (c CreateLeaseCommand) Type() CommandType { return CommandTypeCreateLease }
func (c CreateLeaseCommand) Target() *Lease    { return c.Lease }

// overwrites owner and expiry if the stored version still matches Lease.Version
type UpdateLeaseCommand struct {
	Lease *Lease
}

func (c UpdateLeaseCommand) Type() CommandType { return CommandTypeUpdateLease }
func (c UpdateLeaseCommand) Target() *Lease    { return c.Lease }

// serializes a command into protobuf bytes for the raft log
// expiry and version travel as strings, a proto number is a float64
func EncodeCommand(cmd Command) ([]byte, error) {
	l := cmd.Target()
	if l == nil {
		return nil, fmt.Errorf("command %d carries no lease", cmd.Type())
	}

	s, err := structpb.NewStruct(map[string]any{
		"type":    int(cmd.Type()),
		"name":    l.Name,
		"owner":   l.Owner,
		"expiry":  strconv.FormatInt(l.Expiry.UnixNano(), 10),
		"version": strconv.FormatUint(l.Version, 10),
	})
	if err != nil {
		return nil, err
	}

	return proto.Marshal(s)
}

func DecodeCommand(data []byte) (Command, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}

	fields := s.GetFields()

	expiry, err := strconv.ParseInt(fields["expiry"].GetStringValue(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode expiry: %w", err)
	}
	version, err := strconv.ParseUint(fields["version"].GetStringValue(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}

	l := &Lease{
		Name:    fields["name"].GetStringValue(),
		Owner:   fields["owner"].GetStringValue(),
		Expiry:  time.Unix(0, expiry).UTC(),
		Version: version,
	}

	switch t := CommandType(fields["type"].GetNumberValue()); t {
	case CommandTypeCreateLease:
		return CreateLeaseCommand{Lease: l}, nil
	case CommandTypeUpdateLease:
		return UpdateLeaseCommand{Lease: l}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", t)
	}
}
