package provider

import (
	"strings"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// keywordTag maps a lowercase keyword found in provider labels to a risk tag.
// Order matters for deterministic tag lists, so this is a slice, not a map.
type keywordTag struct {
	keyword string
	tag     models.RiskTag
}

var tagKeywords = []keywordTag{
	{"mixer", models.TagMixer},
	{"mixing", models.TagMixer},
	{"tumbler", models.TagMixer},
	{"darknet", models.TagDarknet},
	{"dark", models.TagDarknet},
	{"hack", models.TagHack},
	{"hacker", models.TagHack},
	{"stolen", models.TagHack},
	{"gambling", models.TagGambling},
	{"casino", models.TagGambling},
	{"exchange", models.TagExchange},
	{"whale", models.TagWhale},
	{"scam", models.TagScam},
	{"phishing", models.TagScam},
	{"sanctioned", models.TagSanctioned},
	{"ofac", models.TagSanctioned},
	{"ransomware", models.TagRansomware},
	{"ransom", models.TagRansomware},
	{"terrorist", models.TagTerroristFinancing},
	{"terrorism", models.TagTerroristFinancing},
}

// ExtractTags sniffs risk tags out of free-form attribution strings. Each tag
// appears at most once, in keyword-table order.
func ExtractTags(values []string) []models.RiskTag {
	var tags []models.RiskTag
	seen := make(map[models.RiskTag]struct{})
	for _, kt := range tagKeywords {
		for _, v := range values {
			if strings.Contains(strings.ToLower(v), kt.keyword) {
				if _, ok := seen[kt.tag]; !ok {
					seen[kt.tag] = struct{}{}
					tags = append(tags, kt.tag)
				}
				break
			}
		}
	}
	return tags
}
