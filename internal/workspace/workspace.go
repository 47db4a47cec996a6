// Package workspace rewrites file references embedded in free-text step
// notes into paths relative to the active workspace folder.
package workspace

import (
	"path/filepath"
	"regexp"
	"strings"
)

// FileRef names one file discovered in a block of text.
type FileRef struct {
	Name string
	Path string
}

const validExtensions = `(txt|md|pdf|docx|xlsx|csv|json|xml|html|png|jpg|jpeg|svg|py)`

var (
	pathFilePattern = regexp.MustCompile(
		`([a-zA-Z]:\\[^\s《》]+?\.` + validExtensions + `|/[^\s《》]+?\.` + validExtensions + `)`,
	)
	// quotedFilePattern recognizes both ASCII double quotes and the
	// original's CJK book-title quotes 《》 around a bare file name.
	quotedFilePattern = regexp.MustCompile(
		`(?:《([^《》\s]+?\.` + validExtensions + `)》|"([^"\s]+?\.` + validExtensions + `)")`,
	)
)

// ExtractFiles rewrites recognized absolute paths and quoted file names in
// text into "<folder>/<basename>" form, returning the rewritten text and
// the list of files it recognized. If folder is empty, text is returned
// unchanged with no extracted files.
func ExtractFiles(text, folder string) (string, []FileRef) {
	if folder == "" {
		return text, nil
	}

	var refs []FileRef

	rewritten := pathFilePattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := pathFilePattern.FindStringSubmatch(match)
		full := groups[1]
		name := filepath.Base(strings.ReplaceAll(full, `\`, "/"))
		newPath := folder + "/" + name
		refs = append(refs, FileRef{Name: name, Path: newPath})
		return newPath
	})

	rewritten = quotedFilePattern.ReplaceAllStringFunc(rewritten, func(match string) string {
		groups := quotedFilePattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[3]
		}
		newPath := folder + "/" + name
		refs = append(refs, FileRef{Name: name, Path: newPath})
		return newPath
	})

	return rewritten, refs
}
