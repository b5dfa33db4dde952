package platforms

import "strings"

// catalog is the source of truth for the entity types cached per family.
var catalog = map[Family][]string{
	FamilyOpenCTI: {
		"Threat-Actor-Group",
		"Threat-Actor-Individual",
		"Intrusion-Set",
		"Campaign",
		"Incident",
		"Malware",
		"Tool",
		"Attack-Pattern",
		"Vulnerability",
		"Sector",
		"Organization",
		"Individual",
		"Event",
		"Country",
		"Region",
		"City",
	},
	FamilyOpenAEV: {
		"Asset",
		"AssetGroup",
		"Player",
		"Team",
		"Organization",
		"Scenario",
		"Simulation",
		"AttackPattern",
	},
}

// attackPatternTypes are noisy in a general page scan and excluded unless requested.
var attackPatternTypes = map[string]struct{}{
	"Attack-Pattern": {},
	"AttackPattern":  {},
}

// typeMap is a reverse map from folded spellings to canonical type names.
// Spellings shared by several families resolve to the first family in
// Families order, so "AttackPattern" becomes "Attack-Pattern".
var typeMap map[string]string

func init() {
	typeMap = make(map[string]string)
	for _, f := range Families {
		for _, t := range catalog[f] {
			if _, taken := typeMap[foldType(t)]; !taken {
				typeMap[foldType(t)] = t
			}
		}
	}
}

func foldType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(t)
}

// EntityTypes returns the entity types cached for a family.
func EntityTypes(f Family) []string {
	return append([]string(nil), catalog[f]...)
}

// NormalizeType maps user-supplied spellings ("attack_pattern", "intrusion set")
// onto the canonical catalog name. Unknown names are returned trimmed.
func NormalizeType(t string) string {
	if canonical, ok := typeMap[foldType(t)]; ok {
		return canonical
	}
	return strings.TrimSpace(t)
}

// IsAttackPatternType reports whether t is an attack-pattern-like type.
func IsAttackPatternType(t string) bool {
	_, ok := attackPatternTypes[t]
	return ok
}
