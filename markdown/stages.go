package markdown

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	hashtagPattern = regexp.MustCompile(`#([A-Za-z][A-Za-z0-9-]*)`)

	// All the URL shapes 3speak has used for the same logical video:
	// current .tv watch/embed links, the play. subdomain, and the legacy
	// .co / .online / .co.uk domains.
	threeSpeakPattern = regexp.MustCompile(
		`^https?://(?:play\.)?3speak\.(?:tv|co\.uk|co|online)/(?:watch|embed)\?v=([A-Za-z0-9._-]+/[A-Za-z0-9-]+)`)

	frontendPostPath = regexp.MustCompile(`^(?:/[^@/][^/]*)?/@([A-Za-z0-9.-]+)/([A-Za-z0-9-]+)/?$`)

	ipfsCIDPattern = regexp.MustCompile(`/ipfs/([A-Za-z0-9]+)`)
)

const (
	embedWidth  = 560
	embedHeight = 315
)

// stageImagesAndHashtags routes every image through the image proxy, stamps
// the configured dimensions on it, and linkifies bare #hashtags in text.
func stageImagesAndHashtags(r *Renderer, body *html.Node, _ *renderState) {
	for _, img := range collect(body, func(n *html.Node) bool { return isElement(n, "img") }) {
		src := getAttr(img, "src")
		if src == "" {
			continue
		}

		if strings.HasPrefix(src, "http") && !strings.HasPrefix(src, r.opts.ImageProxyPrefix) {
			setAttr(img, "src", r.opts.ImageProxyPrefix+src)
		}

		setAttr(img, "width", strconv.Itoa(r.opts.ImageWidth))
		setAttr(img, "height", strconv.Itoa(r.opts.ImageHeight))
	}

	texts := collect(body, func(n *html.Node) bool {
		return n.Type == html.TextNode && !hasAncestor(n, "a", "code", "pre")
	})

	for _, text := range texts {
		linkifyHashtags(r, text)
	}
}

func linkifyHashtags(r *Renderer, text *html.Node) {
	data := text.Data

	matches := hashtagPattern.FindAllStringSubmatchIndex(data, -1)
	if len(matches) == 0 {
		return
	}

	parent := text.Parent
	if parent == nil {
		return
	}

	last := 0

	for _, m := range matches {
		if m[0] > last {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: data[last:m[0]]}, text)
		}

		tag := data[m[2]:m[3]]

		link := &html.Node{
			Type:     html.ElementNode,
			Data:     "a",
			DataAtom: atom.A,
			Attr: []html.Attribute{
				{Key: "href", Val: r.opts.InternalPrefix + "/trending/" + strings.ToLower(tag)},
			},
		}
		link.AppendChild(&html.Node{Type: html.TextNode, Data: "#" + tag})

		parent.InsertBefore(link, text)

		last = m[1]
	}

	if last < len(data) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: data[last:]}, text)
	}

	parent.RemoveChild(text)
}

// stageThreeSpeakEmbeds rewrites 3speak video links into playable iframes.
// Each video id is embedded at most once per render; later links to an
// already-embedded id stay plain anchors.
func stageThreeSpeakEmbeds(_ *Renderer, body *html.Node, st *renderState) {
	for _, anchor := range collect(body, func(n *html.Node) bool { return isElement(n, "a") }) {
		m := threeSpeakPattern.FindStringSubmatch(getAttr(anchor, "href"))
		if m == nil {
			continue
		}

		id := m[1]
		if st.embedded[id] {
			continue
		}

		st.embedded[id] = true

		iframe := &html.Node{
			Type:     html.ElementNode,
			Data:     "iframe",
			DataAtom: atom.Iframe,
			Attr: []html.Attribute{
				{Key: "src", Val: "https://play.3speak.tv/embed?v=" + id},
				{Key: "width", Val: strconv.Itoa(embedWidth)},
				{Key: "height", Val: strconv.Itoa(embedHeight)},
				{Key: "frameborder", Val: "0"},
				{Key: "allowfullscreen", Val: ""},
			},
		}

		replaceNode(anchor, iframe)
	}
}

// stageIPFSPlayback converts upload-gateway media links into native video
// elements served from the playback gateway.
func stageIPFSPlayback(r *Renderer, body *html.Node, st *renderState) {
	uploadPrefix := strings.TrimSuffix(r.opts.UploadGateway, "/") + "/ipfs/"

	for _, anchor := range collect(body, func(n *html.Node) bool { return isElement(n, "a") }) {
		href := getAttr(anchor, "href")
		if !strings.HasPrefix(href, uploadPrefix) {
			continue
		}

		m := ipfsCIDPattern.FindStringSubmatch(href)
		if m == nil {
			continue
		}

		cid := m[1]
		if st.embedded[cid] {
			continue
		}

		st.embedded[cid] = true

		video := &html.Node{
			Type:     html.ElementNode,
			Data:     "video",
			DataAtom: atom.Video,
			Attr: []html.Attribute{
				{Key: "src", Val: strings.TrimSuffix(r.opts.PlaybackGateway, "/") + "/ipfs/" + cid},
				{Key: "controls", Val: ""},
				{Key: "width", Val: strconv.Itoa(embedWidth)},
			},
		}

		replaceNode(anchor, video)
	}
}

// stageHardenIPFSLinks makes every remaining IPFS anchor open in a new
// browsing context without a back-reference, and marks it for the rendering
// layer to intercept so clicking never turns into an inline download prompt.
func stageHardenIPFSLinks(_ *Renderer, body *html.Node, _ *renderState) {
	for _, anchor := range collect(body, func(n *html.Node) bool { return isElement(n, "a") }) {
		if !ipfsCIDPattern.MatchString(getAttr(anchor, "href")) {
			continue
		}

		setAttr(anchor, "target", "_blank")
		setAttr(anchor, "rel", "noopener noreferrer")
		setAttr(anchor, "data-prevent-default", "true")
	}
}

// stageNormalizeFrontendLinks rewrites links to known alternate front-ends
// for the same post into internal /@author/permlink paths, keeping every
// other attribute on the anchor.
func stageNormalizeFrontendLinks(r *Renderer, body *html.Node, _ *renderState) {
	hosts := make(map[string]bool, len(r.opts.FrontendHosts))
	for _, host := range r.opts.FrontendHosts {
		hosts[host] = true
	}

	for _, anchor := range collect(body, func(n *html.Node) bool { return isElement(n, "a") }) {
		href := getAttr(anchor, "href")

		u, err := url.Parse(href)
		if err != nil || u.Host == "" {
			continue
		}

		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		if !hosts[host] {
			continue
		}

		m := frontendPostPath.FindStringSubmatch(u.Path)
		if m == nil {
			continue
		}

		setAttr(anchor, "href", r.opts.InternalPrefix+"/@"+m[1]+"/"+m[2])
	}
}
