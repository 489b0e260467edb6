package parser

// Parser extracts product links from a rendered listing page.
type Parser interface {
	ExtractProductLinks(html string) ([]string, error)
}
