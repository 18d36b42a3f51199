package sizing

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/devskill-org/rec-sizing/milp"
)

// Scenario is one community to size: the optimization inputs plus the
// ownership structure used to split costs between members. Ownership maps
// installation id to member id to share; it may be omitted when only
// installation-level results are wanted.
type Scenario struct {
	milp.Inputs
	Ownership map[string]map[string]float64 `json:"ownership,omitempty"`
}

// LoadScenario loads a scenario from a JSON file.
func LoadScenario(filename string) (*Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario JSON: %w", err)
	}
	if len(sc.Meters) == 0 {
		return nil, fmt.Errorf("scenario has no meters")
	}
	for n, shares := range sc.Ownership {
		if _, ok := sc.Meters[n]; !ok {
			return nil, fmt.Errorf("ownership references unknown meter %q", n)
		}
		var total float64
		for _, share := range shares {
			total += share
		}
		if total < 0.999 || total > 1.001 {
			return nil, fmt.Errorf("ownership shares of meter %q sum to %f, want 1", n, total)
		}
	}
	return &sc, nil
}
