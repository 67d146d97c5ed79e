package session

import (
	"strings"

	"github.com/MakeNowJust/heredoc"

	"github.com/rand/chatbattery/internal/formula"
)

// DefaultMaterial is the cathode family named in the initial prompt.
const DefaultMaterial = "Na"

var initialTemplate = paragraph(`
	We have a MATERIAL_PLACEHOLDER cathode material FORMULA_PLACEHOLDER. Can you
	optimize it to develop new cathode materials with higher capacity and
	improved stability? You can introduce new elements from the following
	groups: carbon group, alkaline earth metals group, and transition elements,
	excluding radioactive elements; and incorporate new elements directly into
	the chemical formula, rather than listing them separately; and give the
	ratio of each element; and adjust the ratio of existing elements. My
	requirements are proposing five optimized battery formulations, listing
	them in bullet points (in asterisk *, not - or number or any other symbol),
	ensuring each formula is chemically valid and realistic for battery
	applications, and providing reasoning for each modification.
`)

var (
	updatePreamble = "You generated some existing or invalid battery compositions " +
		"that need to be replaced with valid ones (one for each).\n"

	notNovelHeader = "These batteries have been discovered before:\n"
	invalidHeader  = "These invalid batteries are:\n"

	updateInstructions = paragraph(`
		When replacing the invalid or existing compositions, you can replace the
		newly added elements with elements of lower atomic mass; and adjust the
		ratio of existing elements; and introduce new elements. The new
		compositions must be stable and have a higher capacity. The final outputs
		should include newly generated valid compositions, skip the retrieved
		batteries, and be listed in bullet points (in asterisk *, not - or number
		or any other symbol).
	`)
)

// paragraph joins a wrapped heredoc into a single line.
func paragraph(s string) string {
	return strings.Join(strings.Fields(heredoc.Doc(s)), " ")
}

// Rejected is an invalid formula and the repair retrieved for it, if any.
type Rejected struct {
	Formula formula.Formula
	Repair  formula.Formula
}

// Prompts renders the user messages of each round.
type Prompts struct {
	// Material names the cathode family, e.g. "Na".
	Material string
}

// Initial renders the first-round prompt for input.
func (p Prompts) Initial(input formula.Formula) string {
	material := p.Material
	if material == "" {
		material = DefaultMaterial
	}
	r := strings.NewReplacer(
		"MATERIAL_PLACEHOLDER", material,
		"FORMULA_PLACEHOLDER", string(input),
	)
	return r.Replace(initialTemplate)
}

// Update renders a revision prompt listing formulas that were already known
// and formulas that failed validation. Each invalid formula carries its
// repair when one was found.
func (p Prompts) Update(notNovel []formula.Formula, invalid []Rejected) string {
	var sb strings.Builder
	sb.WriteString(updatePreamble)

	if len(notNovel) > 0 {
		sb.WriteString(notNovelHeader)
		for _, f := range notNovel {
			sb.WriteString("* " + string(f) + "\n")
		}
	}

	if len(invalid) > 0 {
		sb.WriteString(invalidHeader)
		for _, r := range invalid {
			sb.WriteString("* " + string(r.Formula))
			if r.Repair != "" {
				sb.WriteString(" (a retrieved similar and correct battery is " + string(r.Repair) + ")")
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString(updateInstructions)
	return sb.String()
}

// bulletList renders fs as "* f" lines.
func bulletList(fs []formula.Formula) string {
	lines := make([]string, len(fs))
	for i, f := range fs {
		lines[i] = "* " + string(f)
	}
	return strings.Join(lines, "\n")
}
