package gc

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// StaticConfig is the JVM's one-shot heap configuration as printed by
// jmap -heap. Sizes are bytes.
type StaticConfig struct {
	MinHeapFreeRatio         int64 `yaml:"min_heap_free_ratio,omitempty" json:"min_heap_free_ratio,omitempty"`
	MaxHeapFreeRatio         int64 `yaml:"max_heap_free_ratio,omitempty" json:"max_heap_free_ratio,omitempty"`
	MaxHeapSize              int64 `yaml:"max_heap_size,omitempty" json:"max_heap_size,omitempty"`
	NewSize                  int64 `yaml:"new_size,omitempty" json:"new_size,omitempty"`
	MaxNewSize               int64 `yaml:"max_new_size,omitempty" json:"max_new_size,omitempty"`
	OldSize                  int64 `yaml:"old_size,omitempty" json:"old_size,omitempty"`
	NewRatio                 int64 `yaml:"new_ratio,omitempty" json:"new_ratio,omitempty"`
	SurvivorRatio            int64 `yaml:"survivor_ratio,omitempty" json:"survivor_ratio,omitempty"`
	PermSize                 int64 `yaml:"perm_size,omitempty" json:"perm_size,omitempty"`
	MaxPermSize              int64 `yaml:"max_perm_size,omitempty" json:"max_perm_size,omitempty"`
	MetaspaceSize            int64 `yaml:"metaspace_size,omitempty" json:"metaspace_size,omitempty"`
	MaxMetaspaceSize         int64 `yaml:"max_metaspace_size,omitempty" json:"max_metaspace_size,omitempty"`
	CompressedClassSpaceSize int64 `yaml:"compressed_class_space_size,omitempty" json:"compressed_class_space_size,omitempty"`
}

// Complete reports whether the fields the sizing engine depends on are set.
func (c StaticConfig) Complete() bool {
	return c.MaxHeapSize > 0 && c.NewSize > 0 && c.SurvivorRatio > 0
}

// HasPermGen distinguishes pre-Java 8 JVMs.
func (c StaticConfig) HasPermGen() bool {
	return c.PermSize > 0 || c.MaxPermSize > 0
}

// Fields lists the configuration in jmap order, skipping unset entries.
func (c StaticConfig) Fields() []StaticField {
	all := []StaticField{
		{"MinHeapFreeRatio", c.MinHeapFreeRatio, false},
		{"MaxHeapFreeRatio", c.MaxHeapFreeRatio, false},
		{"MaxHeapSize", c.MaxHeapSize, true},
		{"NewSize", c.NewSize, true},
		{"MaxNewSize", c.MaxNewSize, true},
		{"OldSize", c.OldSize, true},
		{"NewRatio", c.NewRatio, false},
		{"SurvivorRatio", c.SurvivorRatio, false},
		{"PermSize", c.PermSize, true},
		{"MaxPermSize", c.MaxPermSize, true},
		{"MetaspaceSize", c.MetaspaceSize, true},
		{"MaxMetaspaceSize", c.MaxMetaspaceSize, true},
		{"CompressedClassSpaceSize", c.CompressedClassSpaceSize, true},
	}
	fields := all[:0]
	for _, f := range all {
		if f.Value != 0 {
			fields = append(fields, f)
		}
	}
	return fields
}

type StaticField struct {
	Name  string
	Value int64
	Bytes bool
}

func (c *StaticConfig) set(key string, value int64) {
	switch key {
	case "MinHeapFreeRatio":
		c.MinHeapFreeRatio = value
	case "MaxHeapFreeRatio":
		c.MaxHeapFreeRatio = value
	case "MaxHeapSize":
		c.MaxHeapSize = value
	case "NewSize":
		c.NewSize = value
	case "MaxNewSize":
		c.MaxNewSize = value
	case "OldSize":
		c.OldSize = value
	case "NewRatio":
		c.NewRatio = value
	case "SurvivorRatio":
		c.SurvivorRatio = value
	case "PermSize":
		c.PermSize = value
	case "MaxPermSize":
		c.MaxPermSize = value
	case "MetaspaceSize":
		c.MetaspaceSize = value
	case "MaxMetaspaceSize":
		c.MaxMetaspaceSize = value
	case "CompressedClassSpaceSize":
		c.CompressedClassSpaceSize = value
	}
}

// DecodeJmapHeap parses the "Heap Configuration:" block of jmap -heap.
// Lines look like "   NewSize                  = 7864320 (7.5MB)"; a bare
// "MB" unit (MaxMetaspaceSize = 17592186044415 MB) is scaled to bytes.
func DecodeJmapHeap(r io.Reader) (StaticConfig, error) {
	var config StaticConfig

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[1] != "=" {
			continue
		}
		value, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		if len(fields) > 3 && fields[3] == "MB" {
			// The unlimited default does not fit in bytes.
			if value > math.MaxInt64>>20 {
				value = math.MaxInt64
			} else {
				value <<= 20
			}
		}
		config.set(fields[0], value)
	}
	if err := scanner.Err(); err != nil {
		return config, fmt.Errorf("error reading jmap output: %w", err)
	}

	if config.NewSize == 0 {
		return config, fmt.Errorf("%w: jmap output has no NewSize", ErrSourceUnavailable)
	}
	return config, nil
}
