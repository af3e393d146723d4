package server

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

// Upper bounds for a single roll command. Anything past this is a typo or
// someone trying to flood the room.
const (
	maxRollCount = 32
	maxRollSides = 1000
)

var rollPattern = regexp.MustCompile(`^(?:(\d+)[dD])?(\d+)$`)

// parseRollSpec parses a dice specification of the form "NdM" (N dice with M
// sides each) or a bare "M" (one roll in [1,M]).
func parseRollSpec(spec string) (count, sides int, err error) {
	m := rollPattern.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
	}

	count = 1
	if m[1] != "" {
		count, err = strconv.Atoi(m[1])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
		}
	}
	sides, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
	}

	if count < 1 || count > maxRollCount || sides < 2 || sides > maxRollSides {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
	}
	return count, sides, nil
}

// rollDice produces count uniform values in [1,sides].
func rollDice(count, sides int) (results []int, total int) {
	results = make([]int, count)
	for i := range results {
		results[i] = rand.Intn(sides) + 1
		total += results[i]
	}
	return results, total
}
