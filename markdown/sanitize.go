package markdown

import "github.com/microcosm-cc/bluemonday"

// buildPolicy is the non-bypassable last stage: a strict allow-list of tags
// and attributes. Script-bearing constructs never survive it, whatever the
// earlier stages let through.
func buildPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr", "span", "div", "center",
		"strong", "b", "em", "i", "del", "s", "u", "sub", "sup",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li",
		"blockquote", "code", "pre",
		"table", "thead", "tbody", "tr", "th", "td",
		"figure", "figcaption",
	)

	p.AllowAttrs("href", "target", "rel", "title", "data-prevent-default").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowAttrs("src", "width", "height", "frameborder", "allowfullscreen", "allow").OnElements("iframe")
	p.AllowAttrs("src", "controls", "width", "height", "poster", "loop", "muted", "playsinline").OnElements("video")
	p.AllowAttrs("src", "controls").OnElements("audio")
	p.AllowAttrs("src", "type").OnElements("source")
	p.AllowAttrs("start").OnElements("ol")
	p.AllowAttrs("align").OnElements("p", "div", "th", "td")

	p.AllowURLSchemes("http", "https", "mailto", "tel", "ipfs")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)

	return p
}
