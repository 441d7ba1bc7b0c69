package domain

type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguageCpp        Language = "cpp"
	LanguageJava       Language = "java"
)

// Languages lists every language the arena accepts submissions in.
var Languages = []Language{LanguageJavaScript, LanguagePython, LanguageCpp, LanguageJava}

func (l Language) Valid() bool {
	for _, lang := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expectedOutput"`
}

// Problem is the immutable per-match snapshot distributed to both
// participants. Hidden cases never leave the server: they are excluded
// from JSON serialization and only the judge path reads them.
type Problem struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Samples     []TestCase          `json:"examples"`
	Hidden      []TestCase          `json:"-"`
	StarterCode map[Language]string `json:"starterCode"`
	SourceURL   string              `json:"descriptionUrl,omitempty"`
}
