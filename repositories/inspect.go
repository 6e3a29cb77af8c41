package repositories

import (
	"chat-core/internal"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// NodeMapper decodes a BadgerStore leaf for the debug inspector.
func NodeMapper(key string, val []byte) internal.InspectRow {
	var pv structpb.Value
	if err := proto.Unmarshal(val, &pv); err != nil {
		return internal.DefaultMapper(key, val)
	}
	row := internal.InspectRow{Key: strings.TrimPrefix(key, nodePrefix)}
	switch kind := pv.GetKind().(type) {
	case *structpb.Value_StringValue:
		row.Kind, row.Value = "string", kind.StringValue
	case *structpb.Value_NumberValue:
		row.Kind, row.Value = "number", fmt.Sprintf("%.0f", kind.NumberValue)
	case *structpb.Value_BoolValue:
		row.Kind, row.Value = "bool", fmt.Sprint(kind.BoolValue)
	default:
		row.Kind, row.Value = "value", fmt.Sprint(pv.AsInterface())
	}
	return row
}
