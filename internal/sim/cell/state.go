// Package cell describes what occupies a grid coordinate: the comparable
// State value, the marker placeholder that stands in for pending intent,
// point-in-time Snapshots and the Occupant variant used when harvesting.
package cell

import (
	"fmt"
	"sort"
	"strings"
)

const (
	AirBlock    = "AIR"
	MarkerBlock = "MARKER"

	markerTargetKey = "target="
)

// State is a type tag plus a canonical property string. Two States are equal
// iff both fields match, so State is usable as a map key and with ==.
type State struct {
	Block string `json:"block,omitempty"`
	Props string `json:"props,omitempty"`
}

// Empty is the distinguished "nothing here" value.
var Empty = State{}

// New builds a State with props sorted by key. "AIR" and "" both yield Empty.
func New(block string, props map[string]string) State {
	block = strings.ToUpper(strings.TrimSpace(block))
	if block == "" || block == AirBlock {
		return Empty
	}
	if len(props) == 0 {
		return State{Block: block}
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(props[k])
	}
	return State{Block: block, Props: b.String()}
}

// Of is New without properties.
func Of(block string) State { return New(block, nil) }

func (s State) IsEmpty() bool { return s.Block == "" || s.Block == AirBlock }

func (s State) IsMarker() bool { return s.Block == MarkerBlock }

// Normalize folds the AIR spelling into Empty.
func (s State) Normalize() State {
	if s.IsEmpty() {
		return Empty
	}
	return s
}

// Prop looks up a single property. Not meaningful for markers.
func (s State) Prop(key string) (string, bool) {
	if s.Props == "" || s.IsMarker() {
		return "", false
	}
	for _, kv := range strings.Split(s.Props, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

// String renders BLOCK or BLOCK[k=v,...]; Empty renders as AIR.
func (s State) String() string {
	if s.IsEmpty() {
		return AirBlock
	}
	if s.Props == "" {
		return s.Block
	}
	return s.Block + "[" + s.Props + "]"
}

// Parse is the inverse of String.
func Parse(text string) (State, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Empty, nil
	}
	open := strings.IndexByte(text, '[')
	if open < 0 {
		if strings.ContainsAny(text, "],=") {
			return Empty, fmt.Errorf("cell: malformed state %q", text)
		}
		return Of(text), nil
	}
	if !strings.HasSuffix(text, "]") || open == 0 {
		return Empty, fmt.Errorf("cell: malformed state %q", text)
	}
	block := strings.ToUpper(text[:open])
	inner := text[open+1 : len(text)-1]
	if block == MarkerBlock {
		if !strings.HasPrefix(inner, markerTargetKey) {
			return Empty, fmt.Errorf("cell: marker without target %q", text)
		}
		target, err := Parse(strings.TrimPrefix(inner, markerTargetKey))
		if err != nil {
			return Empty, err
		}
		return Marker(target), nil
	}
	props := map[string]string{}
	if inner != "" {
		for _, kv := range strings.Split(inner, ",") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" || strings.ContainsAny(v, "[]") {
				return Empty, fmt.Errorf("cell: malformed property %q in %q", kv, text)
			}
			props[k] = v
		}
	}
	return New(block, props), nil
}

// Marker returns the placeholder cell that represents pending intent target.
func Marker(target State) State {
	return State{Block: MarkerBlock, Props: markerTargetKey + target.Normalize().String()}
}

// MarkerTarget reports the intent a marker stands for.
func (s State) MarkerTarget() (State, bool) {
	if !s.IsMarker() || !strings.HasPrefix(s.Props, markerTargetKey) {
		return Empty, false
	}
	target, err := Parse(strings.TrimPrefix(s.Props, markerTargetKey))
	if err != nil {
		return Empty, false
	}
	return target, true
}
