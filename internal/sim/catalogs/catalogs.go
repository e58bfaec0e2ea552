package catalogs

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

//go:embed defaults/*.json
var defaultFS embed.FS

const (
	cellarsFile = "cellars.json"
	tavernFile  = "tavern.json"
	questsFile  = "quests.json"
)

type Catalogs struct {
	Cellars CellarCatalog
	Tavern  TavernCatalog
	Quests  QuestCatalog
}

type CellarCatalog struct {
	Defs   []CellarDef
	ByID   map[int]CellarDef
	Digest string
}

type CellarDef struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	RatGold  float64 `json:"rat_gold"`
	HireCost float64 `json:"hire_cost"`
	Message  string  `json:"message"`
}

type TavernCatalog struct {
	Stages []TavernStage
	Digest string
}

type TavernStage struct {
	Stage   int    `json:"stage"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

type QuestCatalog struct {
	Defs   []QuestDef
	ByID   map[string]QuestDef
	Digest string
}

type QuestDef struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	RewardGold float64 `json:"reward_gold"`
	RewardXP   float64 `json:"reward_xp"`
}

// Defaults returns the catalogs compiled into the binary.
func Defaults() *Catalogs {
	c, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("embedded catalogs: %v", err))
	}
	return c
}

// Load reads catalogs from configDir. Files missing from configDir (or an
// empty configDir) fall back to the embedded defaults.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	raw, err := readCatalog(configDir, cellarsFile)
	if err != nil {
		return nil, err
	}
	if err := loadCellars(raw, &c.Cellars); err != nil {
		return nil, err
	}

	raw, err = readCatalog(configDir, tavernFile)
	if err != nil {
		return nil, err
	}
	if err := loadTavern(raw, &c.Tavern); err != nil {
		return nil, err
	}

	raw, err = readCatalog(configDir, questsFile)
	if err != nil {
		return nil, err
	}
	if err := loadQuests(raw, &c.Quests); err != nil {
		return nil, err
	}

	return &c, nil
}

// RatGold returns the gold granted per rat killed in the given cellar.
// Unknown cellars pay nothing.
func (c *Catalogs) RatGold(cellarID int) float64 {
	if c == nil {
		return 0
	}
	return c.Cellars.ByID[cellarID].RatGold
}

func (c *Catalogs) TavernMessage(stage int) string {
	if c == nil || len(c.Tavern.Stages) == 0 {
		return ""
	}
	if stage < 0 {
		stage = 0
	}
	if stage >= len(c.Tavern.Stages) {
		stage = len(c.Tavern.Stages) - 1
	}
	return c.Tavern.Stages[stage].Message
}

// LastTavernStage is the highest stage index the tavern narrative supports.
func (c *Catalogs) LastTavernStage() int {
	if c == nil || len(c.Tavern.Stages) == 0 {
		return 0
	}
	return len(c.Tavern.Stages) - 1
}

func (c *Catalogs) CellarMessage(cellarID int) string {
	if c == nil {
		return ""
	}
	return c.Cellars.ByID[cellarID].Message
}

func readCatalog(configDir, name string) ([]byte, error) {
	if configDir != "" {
		b, err := os.ReadFile(filepath.Join(configDir, name))
		if err == nil {
			return b, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return defaultFS.ReadFile("defaults/" + name)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadCellars(raw []byte, out *CellarCatalog) error {
	out.Digest = sha256Hex(raw)

	var defs []CellarDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("%s: %w", cellarsFile, err)
	}
	out.ByID = make(map[int]CellarDef, len(defs))
	for _, d := range defs {
		if d.ID < 0 {
			return fmt.Errorf("%s: negative id %d", cellarsFile, d.ID)
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("%s: duplicate id %d", cellarsFile, d.ID)
		}
		out.ByID[d.ID] = d
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	out.Defs = defs
	return nil
}

func loadTavern(raw []byte, out *TavernCatalog) error {
	out.Digest = sha256Hex(raw)

	var stages []TavernStage
	if err := json.Unmarshal(raw, &stages); err != nil {
		return fmt.Errorf("%s: %w", tavernFile, err)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Stage < stages[j].Stage })
	// Stages are addressed by index, so they must be dense from 0.
	for i, s := range stages {
		if s.Stage != i {
			return fmt.Errorf("%s: stage %d out of sequence (want %d)", tavernFile, s.Stage, i)
		}
	}
	out.Stages = stages
	return nil
}

func loadQuests(raw []byte, out *QuestCatalog) error {
	out.Digest = sha256Hex(raw)

	var defs []QuestDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("%s: %w", questsFile, err)
	}
	out.ByID = make(map[string]QuestDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("%s: empty id", questsFile)
		}
		out.ByID[d.ID] = d
	}
	out.Defs = defs
	return nil
}
