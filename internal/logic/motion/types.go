package motion

// Direction is the commanded direction of an axis.
type Direction int

const (
	Idle Direction = iota
	Positive
	Negative
)

func (d Direction) String() string {
	switch d {
	case Positive:
		return "+"
	case Negative:
		return "-"
	default:
		return "idle"
	}
}

// DirectionFromSign maps '+' and '-' to a direction.
func DirectionFromSign(c byte) (Direction, bool) {
	switch c {
	case '+':
		return Positive, true
	case '-':
		return Negative, true
	}
	return Idle, false
}

// CenteringStage is the progress of the go-to-center maneuver on one axis:
// None -> PhaseOne (run to zero) -> PhaseTwo (run back to center) -> None.
type CenteringStage int

const (
	None CenteringStage = iota
	PhaseOne
	PhaseTwo
)

func (s CenteringStage) String() string {
	switch s {
	case PhaseOne:
		return "to-zero"
	case PhaseTwo:
		return "to-center"
	default:
		return "none"
	}
}
