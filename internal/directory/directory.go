// Package directory loads the people visitors can ask to meet.
package directory

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Person is one host in the directory.
type Person struct {
	Name       string `yaml:"name" json:"name"`
	Department string `yaml:"department" json:"department"`
	Mobile     string `yaml:"mobile" json:"mobile"`
	// Active accepts YES/NO as well as true/false.
	Active string `yaml:"active" json:"-"`
}

// IsActive reports whether the person should be offered on the form.
func (p Person) IsActive() bool {
	switch strings.ToUpper(strings.TrimSpace(p.Active)) {
	case "YES", "Y", "TRUE":
		return true
	}
	return false
}

type file struct {
	People []Person `yaml:"people"`
}

// Directory is an immutable, loaded people list.
type Directory struct {
	people []Person
}

// Load reads a YAML directory file. An empty path yields an empty directory.
func Load(path string) (*Directory, error) {
	if path == "" {
		return &Directory{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a directory document. Unknown fields are rejected.
func Parse(data []byte) (*Directory, error) {
	var f file
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	for i, p := range f.People {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("directory entry %d has no name", i)
		}
	}
	return &Directory{people: f.People}, nil
}

// Active returns active people in file order.
func (d *Directory) Active() []Person {
	out := make([]Person, 0, len(d.people))
	for _, p := range d.people {
		if p.IsActive() {
			out = append(out, p)
		}
	}
	return out
}
