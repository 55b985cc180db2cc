package mindmap

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"thinknet-backend/internal/errors"
)

// Node fields a client may change through a node update.
const (
	FieldX     = "x"
	FieldY     = "y"
	FieldText  = "text"
	FieldLevel = "level"
	FieldColor = "color"
)

// NodePatch is a partial node update. A nil field is left untouched.
type NodePatch struct {
	X     *float64
	Y     *float64
	Text  *string
	Level *int
	Color *string
}

// ParseNodePatch builds a patch from a decoded JSON object. Unknown keys and
// values of the wrong type are rejected.
func ParseNodePatch(updates map[string]any) (NodePatch, error) {
	var p NodePatch

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := updates[key]
		switch key {
		case FieldX, FieldY:
			f, ok := value.(float64)
			if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
				return NodePatch{}, invalidField(key, "must be a number")
			}
			if key == FieldX {
				p.X = &f
			} else {
				p.Y = &f
			}
		case FieldText:
			s, ok := value.(string)
			if !ok {
				return NodePatch{}, invalidField(key, "must be a string")
			}
			p.Text = &s
		case FieldLevel:
			f, ok := value.(float64)
			if !ok || f != math.Trunc(f) {
				return NodePatch{}, invalidField(key, "must be an integer")
			}
			if f > math.MaxInt32 || f < math.MinInt32 {
				return NodePatch{}, invalidField(key, "is out of range")
			}
			level := int(f)
			p.Level = &level
		case FieldColor:
			s, ok := value.(string)
			if !ok {
				return NodePatch{}, invalidField(key, "must be a string")
			}
			p.Color = &s
		default:
			return NodePatch{}, errors.Validation(errors.CodeInvalidInput, "unknown node field").
				WithDetails(key).
				Build()
		}
	}
	return p, nil
}

func invalidField(field, problem string) error {
	return errors.Validation(errors.CodeInvalidInput, "invalid node update").
		WithDetails(fmt.Sprintf("%s %s", field, problem)).
		Build()
}

// IsEmpty reports whether the patch changes nothing.
func (p NodePatch) IsEmpty() bool {
	return p.X == nil && p.Y == nil && p.Text == nil && p.Level == nil && p.Color == nil
}

// Apply merges the patch into n. Later writers win field by field.
func (p NodePatch) Apply(n *Node) error {
	if p.Text != nil && strings.TrimSpace(*p.Text) == "" {
		return invalidField(FieldText, "must not be empty")
	}
	if p.Level != nil && *p.Level < 0 {
		return invalidField(FieldLevel, "must not be negative")
	}

	if p.X != nil {
		n.X = *p.X
	}
	if p.Y != nil {
		n.Y = *p.Y
	}
	if p.Text != nil {
		n.Text = *p.Text
	}
	if p.Level != nil {
		n.Level = *p.Level
	}
	if p.Color != nil {
		n.Color = *p.Color
	}
	return nil
}
