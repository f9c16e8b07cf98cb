package boxes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidName is returned for blank or overlong box names.
	ErrInvalidName = errors.New("invalid box name")

	// ErrDuplicateName is returned when a box with the same name exists.
	ErrDuplicateName = errors.New("box name already in use")

	// ErrNotFound is returned when no box has the requested id.
	ErrNotFound = errors.New("box not found")

	// ErrCorruptState is returned when the stored list cannot be decoded.
	ErrCorruptState = errors.New("stored box list is corrupt")
)

// Box is a named savings bucket.
type Box struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnmarshalJSON accepts string or numeric ids.
func (b *Box) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id := bytes.TrimSpace(raw.ID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return fmt.Errorf("box %q has no id", raw.Name)
	}

	var decoded Box
	decoded.Name = raw.Name
	if id[0] == '"' {
		if err := json.Unmarshal(id, &decoded.ID); err != nil {
			return err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(id, &n); err != nil {
			return fmt.Errorf("invalid box id %s", id)
		}
		decoded.ID = n.String()
	}

	*b = decoded
	return nil
}
