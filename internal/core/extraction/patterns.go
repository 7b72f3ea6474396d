package extraction

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
)

var (
	nodulePattern        = regexp.MustCompile(`(?i)\b(?:pulmonary\s+)?nodules?\b`)
	ggoPattern           = regexp.MustCompile(`(?i)\b(?:ground[-\s]?glass(?:\s+opacit(?:y|ies))?|ggo(?:s)?)\b`)
	consolidationPattern = regexp.MustCompile(`(?i)\bconsolidations?\b`)
	liradsPattern        = regexp.MustCompile(`(?i)\b(?:li-?rads\s*([0-9m]{1,2})|lr-?([0-9m]{1,2}))\b`)
	lesionPattern        = regexp.MustCompile(`(?i)\blesions?\b`)

	sizeCompositePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:x|×)\s*(\d+(?:\.\d+)?)\s*(mm|millimeters?|cm|centimeters?)`)
	sizePattern          = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mm|millimeters?|cm|centimeters?)`)

	groundGlassTypePattern = regexp.MustCompile(`(?i)\bground[-\s]?glass\b`)
	partSolidTypePattern   = regexp.MustCompile(`(?i)\bpart(?:ial)?[-\s]?solid\b`)
	solidTypePattern       = regexp.MustCompile(`(?i)\bsolid\b`)
)

// Lobe phrases and their abbreviations, normalized to the full phrase.
var lobePatterns = []struct {
	re       *regexp.Regexp
	location string
}{
	{regexp.MustCompile(`(?i)\bright upper lobe\b|\brul\b`), "right upper lobe"},
	{regexp.MustCompile(`(?i)\bright middle lobe\b|\brml\b`), "right middle lobe"},
	{regexp.MustCompile(`(?i)\bright lower lobe\b|\brll\b`), "right lower lobe"},
	{regexp.MustCompile(`(?i)\bleft upper lobe\b|\blul\b`), "left upper lobe"},
	{regexp.MustCompile(`(?i)\bleft lower lobe\b|\blll\b`), "left lower lobe"},
	{regexp.MustCompile(`(?i)\blingula\b`), "lingula"},
}

var characteristicPatterns = []struct {
	re  *regexp.Regexp
	tag string
}{
	{regexp.MustCompile(`(?i)\bspiculated\b`), "spiculated"},
	{regexp.MustCompile(`(?i)\bcalcified\b`), "calcified"},
	{regexp.MustCompile(`(?i)\bnew\b`), "new"},
	{regexp.MustCompile(`(?i)\b(?:growing|enlarg(?:ed|ing)|interval growth)\b`), "growing"},
	{regexp.MustCompile(`(?i)\bsolitary\b`), "solitary"},
	{regexp.MustCompile(`(?i)\birregular\b`), "irregular"},
}

// matchFindings runs the deterministic extractors over the report text.
// Findings come back in order of appearance, without IDs; the extractor
// assigns those. Re-running over identical text yields identical findings.
func matchFindings(text string) []model.Finding {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	type keyed struct {
		lineStart int
		finding   model.Finding
	}
	var found []keyed
	seen := make(map[string]bool)

	add := func(lineStart int, f model.Finding) {
		key := strconv.Itoa(lineStart) + "|" + string(f.Type)
		if seen[key] {
			return
		}
		seen[key] = true
		found = append(found, keyed{lineStart: lineStart, finding: f})
	}

	for _, m := range nodulePattern.FindAllStringIndex(text, -1) {
		start, end := lineSpan(text, m[0])
		line := text[start:end]
		f := model.Finding{
			Type:            noduleType(line),
			Location:        matchLobe(line),
			Characteristics: matchCharacteristics(line),
			SourceText:      strings.TrimSpace(line),
		}
		conf := 0.65
		if size := matchSize(line); size != nil {
			f.SizeMM = size
			conf += 0.1
		}
		if f.Location != "" {
			conf += 0.1
		}
		if hasNoduleTypeWord(line) {
			conf += 0.1
		}
		f.Confidence = clampConfidence(conf)
		add(start, f)
	}

	for _, m := range ggoPattern.FindAllStringIndex(text, -1) {
		start, end := lineSpan(text, m[0])
		line := text[start:end]
		f := model.Finding{
			Type:            model.FindingGroundGlassNodule,
			Location:        matchLobe(line),
			Characteristics: appendUnique(matchCharacteristics(line), "ground-glass"),
			Confidence:      0.6,
			SourceText:      strings.TrimSpace(line),
		}
		f.SizeMM = matchSize(line)
		add(start, f)
	}

	for _, m := range consolidationPattern.FindAllStringIndex(text, -1) {
		start, end := lineSpan(text, m[0])
		line := text[start:end]
		add(start, model.Finding{
			Type:            model.FindingConsolidation,
			Location:        matchLobe(line),
			Characteristics: matchCharacteristics(line),
			Confidence:      0.55,
			SourceText:      strings.TrimSpace(line),
		})
	}

	for _, m := range liradsPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := lineSpan(text, m[0])
		line := text[start:end]
		category := submatch(text, m, 2)
		if category == "" {
			category = submatch(text, m, 1)
		}
		conf := 0.7
		if lesionPattern.MatchString(line) {
			conf = 0.8
		}
		tags := matchCharacteristics(line)
		if category != "" {
			tags = appendUnique(tags, "li-rads:LR-"+strings.ToUpper(category))
		}
		f := model.Finding{
			Type:            model.FindingLiverLesion,
			Location:        "liver",
			Characteristics: tags,
			Confidence:      conf,
			SourceText:      strings.TrimSpace(line),
		}
		f.SizeMM = matchSize(line)
		add(start, f)
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].lineStart < found[j].lineStart })

	out := make([]model.Finding, 0, len(found))
	for _, k := range found {
		out = append(out, k.finding)
	}
	return out
}

// lineSpan returns the bounds of the line containing pos.
func lineSpan(text string, pos int) (int, int) {
	start := strings.LastIndexByte(text[:pos], '\n')
	if start == -1 {
		start = 0
	} else {
		start++
	}
	end := strings.IndexByte(text[pos:], '\n')
	if end == -1 {
		end = len(text)
	} else {
		end += pos
	}
	return start, end
}

// matchSize returns the largest measurement on the line in millimeters.
// Composite measurements like "8 x 6 mm" contribute both axes.
func matchSize(line string) *float64 {
	var sizes []float64

	for _, m := range sizeCompositePattern.FindAllStringSubmatch(line, -1) {
		factor := unitFactor(m[3])
		if a, err := strconv.ParseFloat(m[1], 64); err == nil {
			sizes = append(sizes, a*factor)
		}
		if b, err := strconv.ParseFloat(m[2], 64); err == nil {
			sizes = append(sizes, b*factor)
		}
	}
	for _, m := range sizePattern.FindAllStringSubmatch(line, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			sizes = append(sizes, v*unitFactor(m[2]))
		}
	}

	var largest float64
	for _, s := range sizes {
		if s > largest {
			largest = s
		}
	}
	if largest <= 0 {
		return nil
	}
	return &largest
}

func unitFactor(unit string) float64 {
	if strings.HasPrefix(strings.ToLower(unit), "cm") {
		return 10
	}
	return 1
}

func matchLobe(line string) string {
	for _, lp := range lobePatterns {
		if lp.re.MatchString(line) {
			return lp.location
		}
	}
	return ""
}

func matchCharacteristics(line string) []string {
	var tags []string
	for _, cp := range characteristicPatterns {
		if cp.re.MatchString(line) {
			tags = append(tags, cp.tag)
		}
	}
	return tags
}

// noduleType classifies a nodule line by its descriptor words. Part-solid is
// checked before solid since "part-solid" contains "solid". A nodule with no
// descriptor defaults to solid.
func noduleType(line string) model.FindingType {
	switch {
	case partSolidTypePattern.MatchString(line):
		return model.FindingPartSolidNodule
	case groundGlassTypePattern.MatchString(line):
		return model.FindingGroundGlassNodule
	default:
		return model.FindingSolidNodule
	}
}

func hasNoduleTypeWord(line string) bool {
	return partSolidTypePattern.MatchString(line) ||
		groundGlassTypePattern.MatchString(line) ||
		solidTypePattern.MatchString(line)
}

func submatch(text string, idx []int, group int) string {
	lo, hi := idx[2*group], idx[2*group+1]
	if lo < 0 || hi < 0 {
		return ""
	}
	return text[lo:hi]
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return tags
		}
	}
	return append(tags, tag)
}

func clampConfidence(c float64) float64 {
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}
