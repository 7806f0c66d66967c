package cli

import (
	"encoding/json"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

// ValidateID checks whether a string is a valid id
func ValidateID(id string) error {
	if uuid.Parse(id) == nil {
		return errors.Errorf("invalid id %q", id)
	}
	return nil
}

// ParseSpec parses a json object given on the command line
func ParseSpec(spec string) (JMap, error) {
	j := JMap{}
	if err := json.Unmarshal([]byte(spec), &j); err != nil {
		return nil, errors.Wrap(err, "invalid spec")
	}
	return j, nil
}
