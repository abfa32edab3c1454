// Package markdown turns raw blockchain post bodies into HTML that is safe
// to inject into a page. The pipeline is total: malformed input degrades, it
// never errors. The final allow-list sanitization stage always runs last and
// is the only stage allowed to remove content.
package markdown

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type Options struct {
	// ImageProxyPrefix is prepended to every external image URL. The default
	// routes through the Hive image proxy at a fixed size.
	ImageProxyPrefix string

	// ImageWidth and ImageHeight are stamped onto embedded media.
	ImageWidth  int
	ImageHeight int

	// InternalPrefix is the path prefix for hashtag and post links the
	// rendering layer serves itself. Usually empty (site-relative).
	InternalPrefix string

	// FrontendHosts are alternate front-ends whose post links are rewritten
	// to internal paths.
	FrontendHosts []string

	// UploadGateway is the IPFS gateway media gets uploaded through;
	// PlaybackGateway is the one embeds should play from.
	UploadGateway   string
	PlaybackGateway string
}

func (o *Options) applyDefaults() {
	if o.ImageProxyPrefix == "" {
		o.ImageProxyPrefix = "https://images.hive.blog/512x512/"
	}

	if o.ImageWidth <= 0 {
		o.ImageWidth = 512
	}

	if o.ImageHeight <= 0 {
		o.ImageHeight = 512
	}

	if len(o.FrontendHosts) == 0 {
		o.FrontendHosts = []string{"peakd.com", "hive.blog", "ecency.com"}
	}

	if o.UploadGateway == "" {
		o.UploadGateway = "https://gateway.pinata.cloud"
	}

	if o.PlaybackGateway == "" {
		o.PlaybackGateway = "https://ipfs.skatehive.app"
	}
}

type Renderer struct {
	opts   Options
	md     goldmark.Markdown
	policy *bluemonday.Policy
	stages []stage
}

// renderState carries per-call state between stages. A fresh one is created
// for every Render call so embed dedup never leaks across posts.
type renderState struct {
	embedded map[string]bool
}

type stage func(r *Renderer, body *html.Node, st *renderState)

func NewRenderer(opts Options) *Renderer {
	opts.applyDefaults()

	r := &Renderer{
		opts: opts,
		// Raw HTML is allowed through here on purpose: snap bodies mix
		// markdown with HTML, and the sanitizer at the end of the pipeline
		// is the one doing the guarding.
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				ghtml.WithHardWraps(),
				ghtml.WithUnsafe(),
			),
		),
		policy: buildPolicy(),
	}

	r.stages = []stage{
		stageImagesAndHashtags,
		stageThreeSpeakEmbeds,
		stageIPFSPlayback,
		stageHardenIPFSLinks,
		stageNormalizeFrontendLinks,
	}

	return r
}

// Render runs the whole pipeline. The output is safe to inject as HTML
// without further escaping.
func (r *Renderer) Render(src string) string {
	var buf bytes.Buffer

	if err := r.md.Convert([]byte(src), &buf); err != nil {
		// Degrade to the raw body; the sanitizer still runs on it.
		buf.Reset()
		buf.WriteString(src)
	}

	rendered := buf.String()

	if body, ok := parseBody(rendered); ok {
		st := &renderState{embedded: make(map[string]bool)}

		for _, stage := range r.stages {
			stage(r, body, st)
		}

		rendered = renderBody(body)
	}

	return r.policy.Sanitize(rendered)
}

func parseBody(s string) (*html.Node, bool) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

	nodes, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, false
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	return body, true
}

func renderBody(body *html.Node) string {
	var buf bytes.Buffer

	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return buf.String()
		}
	}

	return buf.String()
}
