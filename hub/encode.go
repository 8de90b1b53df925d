package hub

import (
	"time"

	"github.com/pkg/errors"
	"github.com/user/ventana-link/connection"
	"github.com/user/ventana-link/session"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode builds the JSON event envelope
func Encode(kind string, at time.Time, data map[string]interface{}) ([]byte, error) {
	payload, err := structpb.NewStruct(data)
	if err != nil {
		return nil, errors.Wrap(err, "hub: event data")
	}
	envelope := &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":      structpb.NewStringValue(kind),
		"timestamp": structpb.NewStringValue(at.UTC().Format(time.RFC3339Nano)),
		"data":      structpb.NewStructValue(payload),
	}}
	return protojson.Marshal(envelope)
}

func stateData(st connection.State) map[string]interface{} {
	return map[string]interface{}{
		"state": st.String(),
		"ready": st == connection.StateReady,
	}
}

// describe maps an update to its event type and data
func describe(u session.Update) (string, map[string]interface{}) {
	var data map[string]interface{}
	switch u.Kind {
	case session.UpdateState:
		data = stateData(u.State)
	case session.UpdateCommand:
		data = map[string]interface{}{"command": u.Command.String()}
	case session.UpdateTelemetry:
		data = map[string]interface{}{"kind": u.Telemetry.Kind.String(), "text": u.Telemetry.Text}
	case session.UpdateSync:
		data = map[string]interface{}{"key": u.Key, "value": u.Value, "synced": u.Synced}
	case session.UpdateAlert:
		data = map[string]interface{}{"title": u.Title, "body": u.Body}
	default:
		data = map[string]interface{}{}
	}
	if u.Err != nil {
		data["error"] = u.Err.Error()
	}
	return u.Kind.String(), data
}
