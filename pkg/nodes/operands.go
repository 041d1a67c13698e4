package nodes

import (
	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// operands remembers the last value received on each incoming link during a
// pass.
type operands struct {
	values map[string]any
}

func (o *operands) set(from, handle string, v any) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	o.values[model.OperandKey(from, handle)] = v
}

func (o *operands) reset() {
	o.values = nil
}

// collect returns one value per link in link order. An active link that has
// not delivered this pass falls back to the upstream node's computed value.
// It reports false while any link is inactive or still lacks a value.
func (o *operands) collect(links []model.Link) ([]any, bool) {
	out := make([]any, 0, len(links))
	for _, l := range links {
		if !l.Active {
			return nil, false
		}
		if v, ok := o.values[l.Key()]; ok {
			out = append(out, v)
			continue
		}
		if v := l.Node.ComputedValue(); v != nil {
			out = append(out, v)
			continue
		}
		return nil, false
	}
	return out, true
}
