package problems

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/dom/code-arena/internal/domain"
)

// Verified list of ITP1 (intro) problems with parseable sample sections.
var aizuProblemIDs = []string{
	"ITP1_1_B", "ITP1_1_C", "ITP1_1_D",
	"ITP1_2_A", "ITP1_2_C", "ITP1_2_D",
	"ITP1_3_A", "ITP1_3_B", "ITP1_3_C", "ITP1_3_D",
	"ITP1_4_A", "ITP1_4_B", "ITP1_4_C", "ITP1_4_D",
}

// AizuProvider fetches a random beginner problem from the Aizu Online
// Judge resource API and extracts title, sanitized description and sample
// test cases from its HTML body.
type AizuProvider struct {
	baseURL string
	client  *http.Client
	pick    func(n int) int
}

func NewAizuProvider(baseURL string, timeout time.Duration) *AizuProvider {
	return &AizuProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		pick:    rand.Intn,
	}
}

type aizuDescription struct {
	HTMLDescription    string `json:"html_description"`
	HTML               string `json:"html"`
	LiteralDescription string `json:"literal_description"`
}

func (p *AizuProvider) Fetch(ctx context.Context) (*domain.Problem, error) {
	id := aizuProblemIDs[p.pick(len(aizuProblemIDs))]

	url := fmt.Sprintf("%s/resources/descriptions/en/%s", p.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create problem request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProblemUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %s", domain.ErrProblemUnavailable, resp.StatusCode, id)
	}

	var desc aizuDescription
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("%w: invalid description payload: %v", domain.ErrProblemUnavailable, err)
	}

	content := desc.HTMLDescription
	if content == "" {
		content = desc.HTML
	}
	if content == "" && desc.LiteralDescription != "" {
		content = "<pre>" + html.EscapeString(desc.LiteralDescription) + "</pre>"
	}
	if content == "" {
		return nil, fmt.Errorf("%w: description missing for %s", domain.ErrProblemUnavailable, id)
	}

	title, sanitized, cases, err := parseDescription(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProblemUnavailable, err)
	}
	if title == "" {
		title = "Aizu " + id
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w: no sample cases extracted for %s", domain.ErrProblemUnavailable, id)
	}

	visible := SampleVisibleCount
	if visible > len(cases) {
		visible = len(cases)
	}

	return &domain.Problem{
		ID:          id,
		Title:       title,
		Description: sanitized,
		Samples:     cases[:visible],
		Hidden:      cases,
		StarterCode: starterCode(title),
		SourceURL:   "https://onlinejudge.u-aizu.ac.jp/problems/" + id,
	}, nil
}

// parseDescription extracts the problem title, removes script/img/title
// nodes and collects sample input/output pre-block pairs. Aizu pages put a
// "Sample Input N" heading directly before each input pre block and a
// "Sample Output N" heading before the matching output.
func parseDescription(content string) (title, sanitized string, cases []domain.TestCase, err error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to parse description html: %v", err)
	}

	var titleNode *html.Node
	var remove []*html.Node
	var currentInput *string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1":
				if titleNode == nil {
					titleNode = n
				}
				remove = append(remove, n)
			case "h2":
				if titleNode == nil {
					titleNode = n
				}
			case "script", "img":
				remove = append(remove, n)
			}

			text := strings.ToLower(nodeText(n))
			switch {
			case isSampleHeading(n) && strings.Contains(text, "sample input"):
				if pre := nextElement(n); pre != nil && pre.Data == "pre" {
					input := strings.TrimSpace(nodeText(pre))
					currentInput = &input
				}
			case isSampleHeading(n) && strings.Contains(text, "sample output") && currentInput != nil:
				if pre := nextElement(n); pre != nil && pre.Data == "pre" {
					cases = append(cases, domain.TestCase{
						Input:    *currentInput,
						Expected: strings.TrimSpace(nodeText(pre)),
					})
					currentInput = nil
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if titleNode != nil {
		title = strings.TrimSpace(nodeText(titleNode))
	}
	for _, n := range remove {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	var sb strings.Builder
	if err := html.Render(&sb, root); err != nil {
		return "", "", nil, fmt.Errorf("failed to render sanitized html: %v", err)
	}
	return title, sb.String(), cases, nil
}

// isSampleHeading reports whether a node can introduce a sample block.
func isSampleHeading(n *html.Node) bool {
	switch n.Data {
	case "h2", "h3", "p", "div":
		return true
	}
	return false
}

// nextElement returns the next sibling element, skipping text nodes.
func nextElement(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

func starterCode(title string) map[domain.Language]string {
	return map[domain.Language]string{
		domain.LanguageJavaScript: "// Solve " + title + "\nconst fs = require('fs');\nconst input = fs.readFileSync('/dev/stdin').toString().trim().split('\\n');\n// Write code here\n",
		domain.LanguagePython:     "# Solve " + title + "\nimport sys\nlines = sys.stdin.readlines()\n# Write code here\n",
		domain.LanguageCpp:        "// Solve " + title + "\n#include <iostream>\nusing namespace std;\nint main() {\n    return 0;\n}\n",
		domain.LanguageJava:       "// Solve " + title + "\nimport java.util.Scanner;\npublic class Main {\n    public static void main(String[] args) {\n        Scanner sc = new Scanner(System.in);\n    }\n}\n",
	}
}
