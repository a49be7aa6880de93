package core

import "strings"

// Canonical dimension tags.
const (
	DimensionOverworld = "minecraft:overworld"
	DimensionNether    = "minecraft:the_nether"
	DimensionEnd       = "minecraft:the_end"
)

// NormalizeDimension folds the many spellings of the three vanilla
// dimensions onto their canonical tag. Unknown dimensions are lowercased.
func NormalizeDimension(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case d == "":
		return ""
	case strings.Contains(d, "overworld"):
		return DimensionOverworld
	case strings.Contains(d, "the_nether"), strings.HasSuffix(d, ":nether"):
		return DimensionNether
	case strings.Contains(d, "the_end"), strings.HasSuffix(d, ":end"):
		return DimensionEnd
	default:
		return d
	}
}
