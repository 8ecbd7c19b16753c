package event

import (
	"encoding/json"
	"fmt"
)

// Unmarshal rebuilds a typed event from its logged form. The type name is
// the Type.String() value stored alongside the payload.
func Unmarshal(typeName string, data []byte) (Event, error) {
	switch typeName {
	case "Issued":
		var e Issued
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "Transfer":
		var e Transfer
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "Approve":
		var e Approve
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "AllowanceAdjusted":
		var e AllowanceAdjusted
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "OrderCreated":
		var e OrderCreated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "OrderTaken":
		var e OrderTaken
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "OrderCancelled":
		var e OrderCancelled
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "CommandRejected":
		var e CommandRejected
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", typeName)
	}
}
