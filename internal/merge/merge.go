// Package merge assembles resolved fragments into the final configuration document.
package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"git.home.luguber.info/inful/i3configger/internal/fragments"
	"git.home.luguber.info/inful/i3configger/internal/variables"
)

// Options controls the optional decorations of a merged document.
type Options struct {
	// Header prepends a comment block naming the source directory and fragments.
	Header bool
	// Annotate prefixes each fragment with a "### name ###" line.
	Annotate bool
	// StripDefinitions drops variable definition lines from the output.
	StripDefinitions bool
	// Source is the directory named in the header.
	Source string
}

// Document is the merged output.
type Document struct {
	Content   string
	Fragments []string
	Digest    string
}

// Merge concatenates frags in order, expanding variables through res, and joins the
// fragments with a single newline. The result ends with a newline and depends only on
// its inputs.
func Merge(frags []fragments.Fragment, res *variables.Resolution, opts Options) Document {
	names := make([]string, len(frags))
	parts := make([]string, 0, len(frags)+1)

	for i, f := range frags {
		names[i] = f.Name
	}
	if opts.Header {
		parts = append(parts, header(opts.Source, names))
	}

	for _, f := range frags {
		lines := variables.JoinContinuations(f.Content)
		out := make([]string, 0, len(lines)+1)
		if opts.Annotate {
			out = append(out, "### "+f.Name+" ###")
		}
		for _, ll := range lines {
			if res == nil {
				out = append(out, ll.Physical...)
				continue
			}
			def := res.IsDefinition(ll.Text)
			if def && opts.StripDefinitions {
				continue
			}
			for i, line := range ll.Physical {
				// Continued value lines of a definition are all value.
				if def && i > 0 {
					out = append(out, res.Expand(line))
					continue
				}
				out = append(out, res.ExpandLine(line))
			}
		}
		parts = append(parts, strings.Join(out, "\n"))
	}

	content := strings.Join(parts, "\n")
	if content != "" {
		content += "\n"
	}
	return Document{
		Content:   content,
		Fragments: names,
		Digest:    Digest([]byte(content)),
	}
}

// Digest returns the hex sha256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func header(source string, names []string) string {
	lines := []string{
		"# Generated by i3configger. Do not edit; changes are overwritten.",
		"# Source: " + source,
		"# Fragments: " + strings.Join(names, ", "),
	}
	return strings.Join(lines, "\n")
}
