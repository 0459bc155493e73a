package content

// Source is one reference backing a verdict, usually a fact-check article.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Verdict is the classification result for a single unit. Only flagged
// verdicts are ever rendered.
type Verdict struct {
	UnitID      string   `json:"unit_id"`
	IsFlagged   bool     `json:"is_flagged"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Sources     []Source `json:"sources"`
	// Reference identifies the catalogue entry behind the verdict, if any.
	// The "view detail" action hands it to the host.
	Reference string `json:"reference,omitempty"`
}
