package memory

import (
	"encoding/json"
	"os"
	"time"

	"YieldAccrual/internal/model"
)

type fileSnapshot struct {
	Accounts map[string]*model.AccountRecord `json:"accounts"`
	Pricing  *model.PricingRecord            `json:"pricing,omitempty"`
	SavedAt  time.Time                       `json:"saved_at"`
}

// loadFile reads a store snapshot. Returns an empty snapshot if the file doesn't exist.
func loadFile(filePath string) (*fileSnapshot, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileSnapshot{}, nil
		}
		return nil, err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func saveFile(filePath string, snap fileSnapshot) error {
	snap.SavedAt = time.Now()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}
