package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// JMap is a generic resource
type JMap map[string]interface{}

// ID returns the id value
func (j JMap) ID() string {
	return j.Field("id")
}

// Field returns a string field, or "" when it is missing or not a string
func (j JMap) Field(name string) string {
	if v, ok := j[name].(string); ok {
		return v
	}
	return ""
}

// String marshals into a json string
func (j JMap) String() string {
	buf, err := json.Marshal(j)
	if err != nil {
		return ""
	}
	return string(buf)
}

// Print writes either the json string or just the id to w
func (j JMap) Print(w io.Writer, json bool) {
	if json {
		fmt.Fprintln(w, j)
	} else {
		fmt.Fprintln(w, j.ID())
	}
}

// JMapSlice is an array of generic resources, sortable by id
type JMapSlice []JMap

func (js JMapSlice) Len() int {
	return len(js)
}

func (js JMapSlice) Less(i, j int) bool {
	return js[i].ID() < js[j].ID()
}

func (js JMapSlice) Swap(i, j int) {
	js[j], js[i] = js[i], js[j]
}
