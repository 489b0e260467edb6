package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultProductPattern matches product pages of the Shopify storefront behind
// furniture.ca.
const DefaultProductPattern = `myshopify.com/products`

type LinkParser struct {
	productPattern *regexp.Regexp
}

func NewLinkParser() *LinkParser {
	return &LinkParser{
		productPattern: regexp.MustCompile(DefaultProductPattern),
	}
}

// NewLinkParserWithPattern compiles a custom href pattern.
func NewLinkParserWithPattern(pattern string) (*LinkParser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid product pattern: %w", err)
	}
	return &LinkParser{productPattern: re}, nil
}

// ExtractProductLinks returns the href of every anchor matching the product
// pattern, in document order. Duplicates are kept.
func (p *LinkParser) ExtractProductLinks(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if p.productPattern.MatchString(href) {
			links = append(links, href)
		}
	})

	return links, nil
}
