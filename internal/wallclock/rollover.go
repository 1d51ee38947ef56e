package wallclock

// NightStartCutoff is the latest first time at which a trip flagged as
// starting after midnight is moved onto the next day.
const NightStartCutoff = Time(6 * Hour)

// Sequence corrects the literal times of a trip's consecutive stops so that
// they never decrease, adding a Day whenever a value would go back in time.
// The zero value starts at 00:00:00.
type Sequence struct {
	prevDeparture Time
}

// NewSequence starts a sequence for one trip. afterMidnight marks trips the
// source flags as departing after a literal midnight; if such a trip's first
// time is before NightStartCutoff, the whole trip belongs to the previous
// operating day and starts at 24:00:00.
func NewSequence(afterMidnight bool, first Time) *Sequence {
	s := &Sequence{}
	if afterMidnight && first < NightStartCutoff {
		s.prevDeparture = Day
	}
	return s
}

// Next takes the literal arrival and departure of the next stop and returns
// the corrected pair.
func (s *Sequence) Next(arrival, departure Time) (Time, Time) {
	if arrival < s.prevDeparture {
		arrival = arrival.Add(Day)
	}
	if departure < arrival {
		departure = departure.Add(Day)
	}
	s.prevDeparture = departure
	return arrival, departure
}

// Last returns the most recent corrected departure.
func (s *Sequence) Last() Time { return s.prevDeparture }
