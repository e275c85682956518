package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
)

// DefaultSeparator goes between the board name and the channel name in column headers.
const DefaultSeparator = ":"

// Dictionary maps board serial numbers to human readable names. On disk it is a
// two element JSON array: [separator, {"<serial>": "<name>"}].
type Dictionary struct {
	Separator string
	Names     map[string]string
}

// Name returns the configured name for a serial number.
func (d Dictionary) Name(serial int) (string, bool) {
	name, ok := d.Names[strconv.Itoa(serial)]
	return name, ok
}

// ReadOrCreate loads the board dictionary at path. When the file does not exist
// a template is written and an empty dictionary is returned.
func ReadOrCreate(path, defaultSeparator string) (Dictionary, error) {
	dict := Dictionary{Separator: defaultSeparator, Names: map[string]string{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		template := []interface{}{defaultSeparator, map[string]string{"serial_nr": "name string"}}
		out, err := json.MarshalIndent(template, "", "    ")
		if err != nil {
			return dict, err
		}
		if err := os.WriteFile(path, out, 0644); err != nil {
			return dict, fmt.Errorf("creating board dictionary %s: %w", path, err)
		}
		return dict, nil
	}
	if err != nil {
		return dict, fmt.Errorf("reading board dictionary %s: %w", path, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return dict, fmt.Errorf("parsing board dictionary %s: %w", path, err)
	}
	if len(raw) != 2 {
		return dict, fmt.Errorf("board dictionary %s: want [separator, names], got %d elements", path, len(raw))
	}
	if err := json.Unmarshal(raw[0], &dict.Separator); err != nil {
		return dict, fmt.Errorf("board dictionary %s: separator: %w", path, err)
	}
	if err := json.Unmarshal(raw[1], &dict.Names); err != nil {
		return dict, fmt.Errorf("board dictionary %s: names: %w", path, err)
	}
	if dict.Names == nil {
		dict.Names = map[string]string{}
	}
	return dict, nil
}
