package customer

import "fmt"

var firstNames = []string{
	"Alex", "Sam", "Jordan", "Casey", "Taylor",
	"Morgan", "Riley", "Avery", "Quinn", "Blake",
}

// Intn is the subset of *rand.Rand the package draws from.
type Intn interface {
	Intn(n int) int
}

// RandomName returns a display name such as "Riley #417".
func RandomName(r Intn) string {
	return fmt.Sprintf("%s #%d", firstNames[r.Intn(len(firstNames))], 100+r.Intn(899))
}
