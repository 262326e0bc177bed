// Package fusion reduces the detections of one frame to a single driver status.
package fusion

import "github.com/ukydev/drowsiness-monitor/internal/models"

// Status is the fused driver-state label for a frame.
type Status string

const (
	StatusAwake      Status = "awake"
	StatusDrowsy     Status = "drowsy"
	StatusHeadDrop   Status = "head drop"
	StatusYawn       Status = "yawn"
	StatusPhone      Status = "phone"
	StatusDistracted Status = "distracted"
)

// Tier is a priority group of labels. Within a tier the earliest detection wins.
type Tier []Status

// Engine holds an ordered priority table. Earlier tiers preempt later ones
// regardless of confidence.
type Engine struct {
	tiers    []map[string]struct{}
	fallback Status
}

// Default is the priority table used by the streaming endpoint:
// drowsy / head drop first, then yawn / phone / distracted, else awake.
var Default = NewEngine(
	Tier{StatusDrowsy, StatusHeadDrop},
	Tier{StatusYawn, StatusPhone, StatusDistracted},
)

// NewEngine builds an engine from tiers listed highest priority first.
func NewEngine(tiers ...Tier) *Engine {
	e := &Engine{fallback: StatusAwake}
	for _, tier := range tiers {
		set := make(map[string]struct{}, len(tier))
		for _, s := range tier {
			set[string(s)] = struct{}{}
		}
		e.tiers = append(e.tiers, set)
	}
	return e
}

// Fuse returns the status of the first detection, in sequence order, that
// belongs to the highest tier present. Labels outside every tier are ignored.
func (e *Engine) Fuse(detections []models.Detection) Status {
	for _, tier := range e.tiers {
		for _, d := range detections {
			if _, ok := tier[d.Label]; ok {
				return Status(d.Label)
			}
		}
	}
	return e.fallback
}

// Rank returns the zero-based tier of a label and whether it is ranked at all.
func (e *Engine) Rank(label string) (int, bool) {
	for i, tier := range e.tiers {
		if _, ok := tier[label]; ok {
			return i, true
		}
	}
	return 0, false
}

// Fuse applies the Default engine.
func Fuse(detections []models.Detection) Status {
	return Default.Fuse(detections)
}

// IsAlert reports whether the status is anything other than awake.
func (s Status) IsAlert() bool {
	return s != StatusAwake
}
