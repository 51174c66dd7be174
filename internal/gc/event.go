package gc

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GCType is the collection kind a log stanza describes.
type GCType string

const (
	GCTypeParNew   GCType = "ParNew"
	GCTypeCMSSweep GCType = "CMS-concurrent-sweep"
	GCTypeCMSSTW   GCType = "CMS-STW"
	GCTypeFull     GCType = "FULL"
	GCTypeUnknown  GCType = "Unknown"
)

// Unseen marks a survivor age slot with no "- age" line in the stanza.
const Unseen int64 = -1

// Cohort is one survivor age line: objects of this age and the running total
// of all ages up to and including it. Both byte counts are Unseen when the age
// was absent.
type Cohort struct {
	Age        int   `yaml:"age" json:"age"`
	BytesUsed  int64 `yaml:"bytes_used" json:"bytes_used"`
	BytesTotal int64 `yaml:"bytes_total" json:"bytes_total"`
}

func (c Cohort) Seen() bool {
	return c.BytesUsed != Unseen
}

// GCEvent is one parsed log stanza. Generation sizes are KiB, durations are
// seconds. Events are not modified after the parser returns them.
type GCEvent struct {
	Timestamp time.Time       `yaml:"timestamp" json:"timestamp"`
	Uptime    decimal.Decimal `yaml:"uptime" json:"uptime"`
	Type      GCType          `yaml:"type" json:"type"`
	Valid     bool            `yaml:"valid" json:"valid"`

	DesiredSurvivorBytes int64    `yaml:"desired_survivor_bytes,omitempty" json:"desired_survivor_bytes,omitempty"`
	Threshold            int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	MaxThreshold         int      `yaml:"max_threshold,omitempty" json:"max_threshold,omitempty"`
	Ages                 []Cohort `yaml:"ages,omitempty" json:"ages,omitempty"`

	YoungBefore int64           `yaml:"young_before" json:"young_before"`
	YoungAfter  int64           `yaml:"young_after" json:"young_after"`
	YoungTotal  int64           `yaml:"young_total" json:"young_total"`
	YoungPause  decimal.Decimal `yaml:"young_pause" json:"young_pause"`

	HeapBefore int64           `yaml:"heap_before" json:"heap_before"`
	HeapAfter  int64           `yaml:"heap_after" json:"heap_after"`
	HeapTotal  int64           `yaml:"heap_total" json:"heap_total"`
	TotalPause decimal.Decimal `yaml:"total_pause" json:"total_pause"`

	// OldUsed is HeapAfter - YoungAfter.
	OldUsed   int64           `yaml:"old_used" json:"old_used"`
	SweepTime decimal.Decimal `yaml:"sweep_time" json:"sweep_time"`
	STWTime   decimal.Decimal `yaml:"stw_time" json:"stw_time"`
	STW       bool            `yaml:"stw" json:"stw"`

	Raw []string `yaml:"-" json:"-"`
}

func (e *GCEvent) IsSweep() bool {
	return e.Type == GCTypeCMSSweep
}

// IsQualifying reports whether the event can take part in rate and survivor
// comparisons: anything that is neither a stop-the-world pause nor a sweep.
func (e *GCEvent) IsQualifying() bool {
	return !e.STW && !e.IsSweep()
}

// AgeAt returns the cohort for a 1-based age, or an Unseen cohort when the
// age is outside the array.
func (e *GCEvent) AgeAt(age int) Cohort {
	if age < 1 || age > len(e.Ages) {
		return Cohort{Age: age, BytesUsed: Unseen, BytesTotal: Unseen}
	}
	return e.Ages[age-1]
}

// MaxAgeTotal is the largest running total across the populated ages, i.e.
// the full survivor occupancy after this collection.
func (e *GCEvent) MaxAgeTotal() int64 {
	var total int64
	for _, c := range e.Ages {
		total = max(total, c.BytesTotal)
	}
	return total
}

func (e *GCEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Runtime: %s GC Type: %s", e.Timestamp.Format(TimestampLayout), e.Uptime, e.Type)

	switch {
	case e.IsSweep():
		fmt.Fprintf(&b, "\nSweep Time: %s secs", e.SweepTime)
		return b.String()
	case e.STW:
		fmt.Fprintf(&b, "\nStop-the-world Time: %s secs", e.STWTime)
		return b.String()
	}

	fmt.Fprintf(&b, "\nDesired Survivor Size: %d, Curr Threshold: %d (Max: %d)",
		e.DesiredSurvivorBytes, e.Threshold, e.MaxThreshold)
	for _, c := range e.Ages {
		if c.Seen() {
			fmt.Fprintf(&b, "\n- Age %d: %10d bytes, %10d total", c.Age, c.BytesUsed, c.BytesTotal)
		}
	}
	fmt.Fprintf(&b, "\nYG Before GC: %dK, YG After GC: %dK (Total: %dK), %s secs",
		e.YoungBefore, e.YoungAfter, e.YoungTotal, e.YoungPause)
	fmt.Fprintf(&b, "\nTotal Heap Before GC: %dK, Total Heap After GC: %dK (Total: %dK), %s secs",
		e.HeapBefore, e.HeapAfter, e.HeapTotal, e.TotalPause)
	return b.String()
}
