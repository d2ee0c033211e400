package agents

import "hash/fnv"

// Reserved agent index ranges to avoid collision:
// 0-49:  Section research workers (fan-out)
// 100:   Source search
// 101:   Outline planner
// 102:   Section editor
// 110:   Report writer
// 120:   Publisher
// 121:   Translator
// The reviewer and reviser are not named; their log trail is keyed by
// loop iteration instead.
const (
	IdxSectionBase = 0 // Use 0+i per section worker
	IdxSearch      = 100
	IdxPlanner     = 101
	IdxEditor      = 102
	IdxWriter      = 110
	IdxPublisher   = 120
	IdxTranslator  = 121
)

// typefaceNames is the pool of classic typeface-inspired agent names.
// The list is fixed so the same task always logs the same names across
// restarts.
var typefaceNames = []string{
	"Garamond", "Baskerville", "Bodoni", "Caslon", "Didot",
	"Jenson", "Bembo", "Palatino", "Perpetua", "Plantin",
	"Minion", "Sabon", "Utopia", "Walbaum", "Janson",
	"Centaur", "Dante", "Electra", "Fairfield", "Galliard",
	"Granjon", "Melior", "Meridien", "Octavian", "Photina",
	"Requiem", "Spectrum", "Trajan", "Trinite", "Verdigris",
	"Albertus", "Antiqua", "Arnhem", "Caecilia", "Cala",
	"Elzevir", "Fleischman", "Fournier", "Kis", "Lexicon",
	"Miller", "Quadraat", "Renard", "Romanee", "Ruse",
	"Scala", "Swift", "Therhoernen", "Van den Keere", "Vendome",
}

// Name returns a deterministic agent name for a given task and index.
// The same taskID and index always produce the same name, keeping log
// trails stable across re-runs of the same task.
func Name(taskID string, index int) string {
	if len(typefaceNames) == 0 {
		return ""
	}
	hash := fnv32a(taskID)
	return typefaceNames[(int(hash)+index)%len(typefaceNames)]
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
