package grpc

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/emptypb"
)

//go:embed event.proto
var eventProto string

// Names used on the wire.
const (
	ProtoFile   = "inbound/event.proto"
	ServiceName = "inbound.EventService"

	MethodProcess       = "process"
	MethodConsume       = "consume"
	MethodConsumeStream = "consumeStream"
)

// Schema holds the compiled descriptors of inbound.EventService.
type Schema struct {
	File    protoreflect.FileDescriptor
	Service protoreflect.ServiceDescriptor
	Event   protoreflect.MessageDescriptor
	Empty   protoreflect.MessageDescriptor

	headers protoreflect.FieldDescriptor
	payload protoreflect.FieldDescriptor
	files   *protoregistry.Files
}

// EventProtoSource returns the embedded event.proto source.
func EventProtoSource() string { return eventProto }

var loadSchema = sync.OnceValues(func() (*Schema, error) {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{ProtoFile: eventProto}),
		}),
	}
	compiled, err := compiler.Compile(context.Background(), ProtoFile)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", ProtoFile, err)
	}
	fd := compiled[0]

	s := &Schema{File: fd}
	s.Service = fd.Services().ByName("EventService")
	s.Event = fd.Messages().ByName("Event")
	if s.Service == nil || s.Event == nil {
		return nil, fmt.Errorf("%s: EventService or Event missing", ProtoFile)
	}
	s.Empty = s.Service.Methods().ByName(MethodConsume).Output()
	s.headers = s.Event.Fields().ByName("headers")
	s.payload = s.Event.Fields().ByName("payload")

	s.files = new(protoregistry.Files)
	if err := s.files.RegisterFile(emptypb.File_google_protobuf_empty_proto); err != nil {
		return nil, err
	}
	if err := s.files.RegisterFile(fd); err != nil {
		return nil, err
	}
	return s, nil
})

// LoadSchema compiles the embedded proto once and returns its descriptors.
func LoadSchema() (*Schema, error) { return loadSchema() }

// Files returns a registry holding the event proto and its imports.
func (s *Schema) Files() *protoregistry.Files { return s.files }

// NewEvent builds an Event message.
func (s *Schema) NewEvent(headers map[string]string, payload string) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(s.Event)
	if payload != "" {
		msg.Set(s.payload, protoreflect.ValueOfString(payload))
	}
	if len(headers) > 0 {
		m := msg.Mutable(s.headers).Map()
		for k, v := range headers {
			m.Set(protoreflect.ValueOfString(k).MapKey(), protoreflect.ValueOfString(v))
		}
	}
	return msg
}

// NewEmpty builds a google.protobuf.Empty message.
func (s *Schema) NewEmpty() *dynamicpb.Message {
	return dynamicpb.NewMessage(s.Empty)
}

// ReadEvent returns the headers and payload of an Event message.
func (s *Schema) ReadEvent(msg protoreflect.Message) (map[string]string, string) {
	headers := make(map[string]string)
	msg.Get(s.headers).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		headers[k.String()] = v.String()
		return true
	})
	return headers, msg.Get(s.payload).String()
}
