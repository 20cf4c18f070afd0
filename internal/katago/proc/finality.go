package proc

import (
	"encoding/json"
	"strings"
)

// Envelope is an inbound line decoded only as far as correlation needs.
type Envelope struct {
	ID           string
	Error        string
	ErrorField   string
	DuringSearch *bool
	Fields       map[string]json.RawMessage
	Raw          json.RawMessage
}

func (e Envelope) Has(key string) bool {
	v, ok := e.Fields[key]
	if !ok {
		return false
	}
	s := strings.TrimSpace(string(v))
	return s != "" && s != "null"
}

func decodeEnvelope(line []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Envelope{}, err
	}
	env := Envelope{Fields: fields, Raw: append(json.RawMessage(nil), line...)}
	if v, ok := fields["id"]; ok {
		var id string
		if err := json.Unmarshal(v, &id); err == nil {
			env.ID = id
		}
	}
	if v, ok := fields["error"]; ok {
		var msg string
		if err := json.Unmarshal(v, &msg); err == nil {
			env.Error = msg
		}
	}
	if v, ok := fields["field"]; ok {
		var f string
		if err := json.Unmarshal(v, &f); err == nil {
			env.ErrorField = f
		}
	}
	if v, ok := fields["isDuringSearch"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			env.DuringSearch = &b
		}
	}
	return env, nil
}

// FinalityPolicy decides whether an inbound message completes its request.
// Which signal marks the last line differs between engine builds.
type FinalityPolicy interface {
	IsFinal(env Envelope) bool
}

type FinalityFunc func(env Envelope) bool

func (f FinalityFunc) IsFinal(env Envelope) bool { return f(env) }

// DefaultFinality trusts an explicit isDuringSearch flag and otherwise treats
// any message carrying root analysis as final.
var DefaultFinality FinalityPolicy = FinalityFunc(func(env Envelope) bool {
	if env.DuringSearch != nil {
		return !*env.DuringSearch
	}
	return env.Has("rootInfo") || env.Has("root") || env.Has("moveInfos")
})

// StrictFinality only resolves on an explicit isDuringSearch=false.
var StrictFinality FinalityPolicy = FinalityFunc(func(env Envelope) bool {
	return env.DuringSearch != nil && !*env.DuringSearch
})
