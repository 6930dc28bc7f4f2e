package contact

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// Seed returns the built-in default contact set with fresh identifiers.
// Entries without a status get one derived from their dates.
func Seed(now time.Time) []Contact {
	var list []Contact
	if err := yaml.Unmarshal(seedYAML, &list); err != nil {
		// The fixture is compiled in; a parse failure is a build defect.
		panic(fmt.Sprintf("contact: invalid seed fixture: %v", err))
	}
	for i := range list {
		list[i].ID = NewID()
		if list[i].Status == "" {
			list[i].Status = DetermineStatus(list[i].NextContact, list[i].RecentContact, now)
		}
	}
	return list
}
