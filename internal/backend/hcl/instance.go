package hcl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/zjrosen/hotswap/internal/script"
)

// instance is a data-producing HCL script. Its value is evaluated once at load.
type instance struct {
	name  string
	tag   string
	value cty.Value
}

func (i *instance) Name() string             { return i.name }
func (i *instance) TypeTag() string          { return i.tag }
func (i *instance) OnRegistered(script.Host) {}

// Data returns a fresh copy of the script's value as plain Go values.
func (i *instance) Data(context.Context) (any, error) {
	return toGo(i.value)
}

// toGo converts v through its JSON form so callers get maps, slices and scalars.
func toGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	raw, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, fmt.Errorf("convert value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("convert value: %w", err)
	}
	return out, nil
}

var _ script.DataProducer = (*instance)(nil)
