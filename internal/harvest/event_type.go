package harvest

// EventType is the canonical tag for an event table.
type EventType string

// Track events.
const (
	Event100m    EventType = "100m"
	Event100mH   EventType = "100mH"
	Event110mH   EventType = "110mH"
	Event200m    EventType = "200m"
	Event400m    EventType = "400m"
	Event400mH   EventType = "400mH"
	Event800m    EventType = "800m"
	Event1500m   EventType = "1500m"
	Event3000m   EventType = "3000m"
	Event3000mSC EventType = "3000mSC"
	Event5000m   EventType = "5000m"
	Event10000m  EventType = "10000m"
	Event4x100   EventType = "4x100"
	Event4x400   EventType = "4x400"
)

// Field events and multi-events.
const (
	EventHighJump   EventType = "HJ"
	EventPoleVault  EventType = "PV"
	EventLongJump   EventType = "LJ"
	EventTripleJump EventType = "TJ"
	EventShotPut    EventType = "SP"
	EventDiscus     EventType = "DT"
	EventHammer     EventType = "HT"
	EventJavelin    EventType = "JT"
	EventDecathlon  EventType = "DEC"
	EventHeptathlon EventType = "HEP"
)

var fieldEvents = map[EventType]struct{}{
	EventHighJump:   {},
	EventPoleVault:  {},
	EventLongJump:   {},
	EventTripleJump: {},
	EventShotPut:    {},
	EventDiscus:     {},
	EventHammer:     {},
	EventJavelin:    {},
	EventDecathlon:  {},
	EventHeptathlon: {},
}

// IsField reports whether the event is excluded from timed-mark handling.
func (e EventType) IsField() bool {
	_, ok := fieldEvents[e]
	return ok
}

// IsRelay reports whether rows reference a team rather than one athlete.
func (e EventType) IsRelay() bool {
	return e == Event4x100 || e == Event4x400
}

func (e EventType) String() string {
	return string(e)
}
