package combat

import "github.com/cory-johannsen/skirmish/internal/game/dice"

// DefaultInitiative is rolled when no expression is configured.
var DefaultInitiative = dice.MustParse("1d20")

// RollInitiative rolls expr plus bonus through roller.
func RollInitiative(roller *dice.Roller, expr dice.Expression, bonus int) int {
	return roller.Roll(expr).Total() + bonus
}
